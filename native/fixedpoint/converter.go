package fixedpoint

import (
	"fmt"
	"math/big"
)

// ValidateDecimals rejects token precisions above the accounting precision.
func ValidateDecimals(decimals uint8) error {
	if decimals > Decimals {
		return fmt.Errorf("%w: %d", ErrUnsupportedDecimals, decimals)
	}
	return nil
}

// Converter moves amounts between a token's native precision and the 18
// decimal accounting scale. It can only be built for validated decimals.
type Converter struct {
	decimals uint8
	factor   *big.Int
}

// NewConverter validates decimals and returns the matching converter.
func NewConverter(decimals uint8) (Converter, error) {
	if err := ValidateDecimals(decimals); err != nil {
		return Converter{}, err
	}
	return Converter{decimals: decimals, factor: Pow10(uint(Decimals - decimals))}, nil
}

// Decimals returns the token precision.
func (c Converter) Decimals() uint8 { return c.decimals }

func (c Converter) scale() *big.Int {
	if c.factor == nil {
		return big.NewInt(1)
	}
	return c.factor
}

// Normalize scales a raw token amount up to 18 decimals. It is lossless.
func (c Converter) Normalize(raw *big.Int) (*big.Int, error) {
	return Mul(raw, c.scale())
}

// Denormalize scales an 18 decimal amount down to token units, truncating
// toward zero.
func (c Converter) Denormalize(amount *big.Int) (*big.Int, error) {
	return Div(amount, c.scale())
}
