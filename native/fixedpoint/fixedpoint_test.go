package fixedpoint

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func maxWord() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

func TestConverterRoundTrip(t *testing.T) {
	conv, err := NewConverter(6)
	require.NoError(t, err)

	normalized, err := conv.Normalize(big.NewInt(1_500_000))
	require.NoError(t, err)
	require.Equal(t, "1500000000000000000", normalized.String())

	back, err := conv.Denormalize(normalized)
	require.NoError(t, err)
	require.Equal(t, int64(1_500_000), back.Int64())

	truncated, err := conv.Denormalize(big.NewInt(999_999_999_999))
	require.NoError(t, err)
	require.Zero(t, truncated.Sign())
}

func TestConverterEighteenDecimalsIsIdentity(t *testing.T) {
	conv, err := NewConverter(18)
	require.NoError(t, err)
	value := big.NewInt(123456789)
	normalized, err := conv.Normalize(value)
	require.NoError(t, err)
	require.Equal(t, 0, normalized.Cmp(value))
}

func TestValidateDecimalsRejectsAboveEighteen(t *testing.T) {
	_, err := NewConverter(19)
	require.ErrorIs(t, err, ErrUnsupportedDecimals)
	require.NoError(t, ValidateDecimals(0))
}

func TestArithmeticBounds(t *testing.T) {
	_, err := Add(maxWord(), big.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Sub(big.NewInt(1), big.NewInt(2))
	require.ErrorIs(t, err, ErrUnderflow)

	_, err = Mul(maxWord(), big.NewInt(2))
	require.ErrorIs(t, err, ErrOverflow)

	_, err = MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0))
	require.ErrorIs(t, err, ErrDivisionByZero)

	_, err = Add(big.NewInt(-1), big.NewInt(1))
	require.ErrorIs(t, err, ErrNegative)
}

func TestMulDivUsesWideIntermediate(t *testing.T) {
	// (2^255 * 4) / 8 overflows a 256-bit product but not the result.
	a := new(big.Int).Lsh(big.NewInt(1), 255)
	got, err := MulDiv(a, big.NewInt(4), big.NewInt(8))
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(new(big.Int).Lsh(big.NewInt(1), 254)))
}

func TestMulDivRounding(t *testing.T) {
	down, err := MulDiv(big.NewInt(10), big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	up, err := MulDivUp(big.NewInt(10), big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	if down.Int64() != 3 || up.Int64() != 4 {
		t.Fatalf("unexpected rounding down=%s up=%s", down, up)
	}
	exact, err := MulDivUp(big.NewInt(9), big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, int64(3), exact.Int64())
}

func TestBpsOf(t *testing.T) {
	got, err := BpsOf(big.NewInt(1_000), 2_500)
	require.NoError(t, err)
	require.Equal(t, int64(250), got.Int64())
}

func TestParse(t *testing.T) {
	v, err := Parse(" 42 ")
	require.NoError(t, err)
	require.Equal(t, int64(42), v.Int64())

	_, err = Parse("abc")
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	_, err = Parse("-1")
	require.ErrorIs(t, err, ErrNegative)

	zero, err := ParseOrZero("")
	require.NoError(t, err)
	require.True(t, IsZero(zero))
}

func TestParseDecimal(t *testing.T) {
	v, err := ParseDecimal("1.1")
	require.NoError(t, err)
	require.Equal(t, "1100000000000000000", v.String())

	v, err = ParseDecimal("2")
	require.NoError(t, err)
	require.Equal(t, 0, v.Cmp(new(big.Int).Mul(big.NewInt(2), Unit)))

	v, err = ParseDecimal(".5")
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", v.String())

	_, err = ParseDecimal("1.0000000000000000001")
	require.ErrorIs(t, err, ErrInvalidAmount)
}
