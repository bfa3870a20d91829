// Package money centralises the fixed-point arithmetic used across the
// operations core. All amounts are two-decimal values rounded half-up; every
// computation that leaves this package is already quantized.
package money

import (
	"github.com/shopspring/decimal"

	"mesaops/fault"
)

// PriceMode controls whether displayed unit prices already contain tax.
type PriceMode string

const (
	TaxIncluded PriceMode = "tax_included"
	TaxExcluded PriceMode = "tax_excluded"
)

// ParsePriceMode validates a configured display mode.
func ParsePriceMode(s string) (PriceMode, error) {
	switch PriceMode(s) {
	case TaxIncluded, TaxExcluded:
		return PriceMode(s), nil
	default:
		return "", fault.BadRequest("unknown price display mode %q", s)
	}
}

// Quantize rounds to two decimals, half-up.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Zero is the canonical zero amount.
func Zero() decimal.Decimal { return decimal.Zero }

// TaxBreakdown derives (subtotal, tax) for a displayed line total under the
// configured mode so that the guest-facing figure is preserved to the cent:
// tax_included keeps subtotal+tax equal to the displayed amount, tax_excluded
// adds tax on top of it.
func TaxBreakdown(displayed decimal.Decimal, rate decimal.Decimal, mode PriceMode) (subtotal, tax decimal.Decimal) {
	switch mode {
	case TaxIncluded:
		divisor := decimal.NewFromInt(1).Add(rate)
		subtotal = Quantize(displayed.Div(divisor))
		tax = displayed.Sub(subtotal)
		return subtotal, tax
	default:
		subtotal = Quantize(displayed)
		tax = Quantize(subtotal.Mul(rate))
		return subtotal, tax
	}
}

// TipFromPercent computes a tip of pct percent over the subtotal.
func TipFromPercent(subtotal decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return Quantize(subtotal.Mul(pct).Div(decimal.NewFromInt(100)))
}

// SplitEven distributes total across n shares. The first n-1 shares are the
// floored cent quotient; the last share absorbs the residue so the shares sum
// to total exactly.
func SplitEven(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	cents := total.Shift(2).Round(0).IntPart()
	per := cents / int64(n)
	shares := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		shares[i] = decimal.New(per, -2)
	}
	shares[n-1] = decimal.New(cents-per*int64(n-1), -2)
	return shares
}

// Sum adds values without intermediate rounding.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// WithinCent reports whether a and b differ by at most one cent. Used by
// invariant checks, never by settlement arithmetic.
func WithinCent(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(decimal.New(1, -2))
}
