package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTaxBreakdownExcluded(t *testing.T) {
	subtotal, tax := TaxBreakdown(d("100.00"), d("0.16"), TaxExcluded)
	assert.True(t, subtotal.Equal(d("100.00")), "subtotal %s", subtotal)
	assert.True(t, tax.Equal(d("16.00")), "tax %s", tax)
}

func TestTaxBreakdownIncludedPreservesDisplayed(t *testing.T) {
	displayed := d("116.00")
	subtotal, tax := TaxBreakdown(displayed, d("0.16"), TaxIncluded)
	assert.True(t, subtotal.Add(tax).Equal(displayed), "sum %s", subtotal.Add(tax))
	assert.True(t, subtotal.Equal(d("100.00")), "subtotal %s", subtotal)

	// An awkward displayed amount still reconstructs to the cent.
	displayed = d("99.99")
	subtotal, tax = TaxBreakdown(displayed, d("0.16"), TaxIncluded)
	assert.True(t, subtotal.Add(tax).Equal(displayed), "sum %s", subtotal.Add(tax))
}

func TestTipFromPercent(t *testing.T) {
	assert.True(t, TipFromPercent(d("100.00"), d("10")).Equal(d("10.00")))
	assert.True(t, TipFromPercent(d("33.35"), d("15")).Equal(d("5.00")), "half-up rounding")
	assert.True(t, TipFromPercent(d("50.00"), d("0")).IsZero())
}

func TestSplitEvenConservation(t *testing.T) {
	for _, tc := range []struct {
		total string
		n     int
		want  []string
	}{
		{"120.01", 3, []string{"40.00", "40.00", "40.01"}},
		{"100.00", 3, []string{"33.33", "33.33", "33.34"}},
		{"0.01", 2, []string{"0.00", "0.01"}},
		{"50.00", 1, []string{"50.00"}},
	} {
		shares := SplitEven(d(tc.total), tc.n)
		require.Len(t, shares, tc.n, "total %s", tc.total)
		sum := Sum(shares...)
		assert.True(t, sum.Equal(d(tc.total)), "total %s split %d sums to %s", tc.total, tc.n, sum)
		for i, want := range tc.want {
			assert.True(t, shares[i].Equal(d(want)), "share %d of %s = %s", i, tc.total, shares[i])
		}
	}
}

func TestSplitEvenRejectsNonPositiveShares(t *testing.T) {
	assert.Nil(t, SplitEven(d("10.00"), 0))
	assert.Nil(t, SplitEven(d("10.00"), -1))
}

func TestParsePriceMode(t *testing.T) {
	mode, err := ParsePriceMode("tax_included")
	require.NoError(t, err)
	assert.Equal(t, TaxIncluded, mode)

	_, err = ParsePriceMode("vat_inline")
	assert.Error(t, err)
}

func TestWithinCent(t *testing.T) {
	assert.True(t, WithinCent(d("10.00"), d("10.01")))
	assert.True(t, WithinCent(d("10.00"), d("9.99")))
	assert.False(t, WithinCent(d("10.00"), d("10.02")))
}
