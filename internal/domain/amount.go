package domain

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// FormatAmount renders a minor-unit amount as a decimal string, e.g.
// FormatAmount(1_500_000, 6) == "1.500000".
func FormatAmount(amount uint64, decimals uint8) string {
	var d apd.Decimal
	d.Coeff.SetUint64(amount)
	d.Exponent = -int32(decimals)
	return d.Text('f')
}

// ParseAmount converts a decimal string into minor units. Inputs with more
// fractional digits than decimals are rejected.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Negative {
		return 0, fmt.Errorf("parse amount %q: negative", s)
	}
	var scaled apd.Decimal
	ctx := apd.BaseContext.WithPrecision(40)
	cond, err := ctx.Quantize(&scaled, d, -int32(decimals))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if cond.Inexact() {
		return 0, fmt.Errorf("parse amount %q: more than %d decimals", s, decimals)
	}
	scaled.Exponent = 0
	if !scaled.Coeff.IsUint64() {
		return 0, fmt.Errorf("parse amount %q: %w", s, ErrArithmeticOverflow)
	}
	return scaled.Coeff.Uint64(), nil
}
