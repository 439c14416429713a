// Package money provides the fixed-point decimal representation used for
// balances, amounts, shares and prices (spec §6.4). Binary floating point
// never reaches storage or a caller; it is only used transiently inside the
// LMSR math (internal/pricing), which rounds back to 6 digits on output.
package money

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits persisted and returned to callers.
const Scale = 6

// Round rounds d to the platform's fixed-point scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// FromFloat converts a float64 (as produced by the LMSR math) into a rounded
// fixed-point Decimal.
func FromFloat(f float64) decimal.Decimal {
	return Round(decimal.NewFromFloat(f))
}

// ToFloat converts a Decimal to float64 for feeding the LMSR math.
func ToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Zero is the canonical zero value at the platform scale.
var Zero = decimal.NewFromInt(0)

// IsPositive reports whether d > 0.
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// IsNegativeOrZero reports whether d <= 0.
func IsNegativeOrZero(d decimal.Decimal) bool {
	return !IsPositive(d)
}
