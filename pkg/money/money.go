// Package money holds the decimal rounding rules shared by pricing code.
// Amounts are in major currency units (rupees) with two decimal places.
package money

import "github.com/shopspring/decimal"

var (
	Hundred = decimal.NewFromInt(100)
	Zero    = decimal.Zero
)

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// RoundUnit rounds half away from zero to a whole currency unit.
func RoundUnit(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// ClampPercent bounds p to [0, 100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(Zero) {
		return Zero
	}
	if p.GreaterThan(Hundred) {
		return Hundred
	}
	return p
}

// PercentOf returns amount*pct/100 without rounding.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(Hundred)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NonNegative floors d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}
