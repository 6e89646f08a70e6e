// Package money holds the rounding rule used for every ledger amount.
//
// Amounts are decimals with two fractional digits. Rounding is half-up,
// applied to the magnitude (half away from zero), so 0.125 becomes 0.13
// and -0.125 becomes -0.13. Claim payouts derived from a transaction use
// the same rule on the absolute value.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept on ledger amounts.
const Places int32 = 2

// Round applies the ledger rounding rule.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse reads a decimal string and rounds it.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Round(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Payout returns the reimbursement owed for a transaction amount.
func Payout(amount decimal.Decimal) decimal.Decimal {
	return Round(amount.Abs())
}
