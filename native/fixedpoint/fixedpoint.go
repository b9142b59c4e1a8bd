// Package fixedpoint provides the overflow-checked 18 decimal arithmetic
// shared by every ledger component.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the common accounting precision.
const Decimals = 18

// BasisPoints is the denominator of every bps parameter.
const BasisPoints = 10_000

var (
	ErrOverflow            = errors.New("fixedpoint: overflow")
	ErrUnderflow           = errors.New("fixedpoint: underflow")
	ErrDivisionByZero      = errors.New("fixedpoint: division by zero")
	ErrNegative            = errors.New("fixedpoint: negative amount")
	ErrUnsupportedDecimals = errors.New("fixedpoint: unsupported decimals")
	ErrInvalidAmount       = errors.New("fixedpoint: invalid amount")
)

// Unit is 1e18.
var Unit = Pow10(Decimals)

// Pow10 returns 10^n.
func Pow10(n uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// Clone copies v, mapping nil to zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if Clone(a).Cmp(Clone(b)) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

func toWord(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return word, nil
}

func operands(values ...*big.Int) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(values))
	for i, v := range values {
		word, err := toWord(v)
		if err != nil {
			return nil, err
		}
		out[i] = word
	}
	return out, nil
}

// Check validates that v fits the 256-bit unsigned domain.
func Check(v *big.Int) error {
	_, err := toWord(v)
	return err
}

// Add returns a+b.
func Add(a, b *big.Int) (*big.Int, error) {
	w, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(w[0], w[1])
	if overflow {
		return nil, ErrOverflow
	}
	return sum.ToBig(), nil
}

// Sub returns a-b. A negative result is ErrUnderflow.
func Sub(a, b *big.Int) (*big.Int, error) {
	w, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	diff, underflow := new(uint256.Int).SubOverflow(w[0], w[1])
	if underflow {
		return nil, ErrUnderflow
	}
	return diff.ToBig(), nil
}

// Mul returns a*b.
func Mul(a, b *big.Int) (*big.Int, error) {
	w, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(w[0], w[1])
	if overflow {
		return nil, ErrOverflow
	}
	return product.ToBig(), nil
}

// Div returns floor(a/b).
func Div(a, b *big.Int) (*big.Int, error) {
	w, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	if w[1].IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(w[0], w[1]).ToBig(), nil
}

// MulDiv returns floor(a*b/c) with a 512-bit intermediate product.
func MulDiv(a, b, c *big.Int) (*big.Int, error) {
	w, err := operands(a, b, c)
	if err != nil {
		return nil, err
	}
	if w[2].IsZero() {
		return nil, ErrDivisionByZero
	}
	quotient, overflow := new(uint256.Int).MulDivOverflow(w[0], w[1], w[2])
	if overflow {
		return nil, ErrOverflow
	}
	return quotient.ToBig(), nil
}

// MulDivUp returns ceil(a*b/c).
func MulDivUp(a, b, c *big.Int) (*big.Int, error) {
	w, err := operands(a, b, c)
	if err != nil {
		return nil, err
	}
	if w[2].IsZero() {
		return nil, ErrDivisionByZero
	}
	quotient, overflow := new(uint256.Int).MulDivOverflow(w[0], w[1], w[2])
	if overflow {
		return nil, ErrOverflow
	}
	if !new(uint256.Int).MulMod(w[0], w[1], w[2]).IsZero() {
		var carry bool
		quotient, carry = quotient.AddOverflow(quotient, uint256.NewInt(1))
		if carry {
			return nil, ErrOverflow
		}
	}
	return quotient.ToBig(), nil
}

// BpsOf returns floor(amount*bps/10000).
func BpsOf(amount *big.Int, bps uint64) (*big.Int, error) {
	return MulDiv(amount, new(big.Int).SetUint64(bps), big.NewInt(BasisPoints))
}

// Parse reads a non-negative base-10 integer amount.
func Parse(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if err := Check(amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// ParseDecimal reads a decimal such as "1.1" into 18 decimal fixed point.
// More than 18 fractional digits are rejected rather than rounded.
func ParseDecimal(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	whole, frac, found := strings.Cut(trimmed, ".")
	if !found {
		amount, err := Parse(trimmed)
		if err != nil {
			return nil, err
		}
		return Mul(amount, Unit)
	}
	if len(frac) > Decimals || strings.ContainsAny(frac, "+-") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if whole == "" {
		whole = "0"
	}
	return Parse(whole + frac + strings.Repeat("0", Decimals-len(frac)))
}

// ParseOrZero decodes a stored amount string, mapping the empty string to
// zero.
func ParseOrZero(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return new(big.Int), nil
	}
	return Parse(value)
}

// String renders v, mapping nil to "0".
func String(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
