package query

import "github.com/shopspring/decimal"

// priceDecimals is the number of fractional digits shown for ratios.
const priceDecimals = 8

// RatioString renders quote/base as a decimal string. A zero base renders
// as "0".
func RatioString(quote, base int64) string {
	if base == 0 {
		return "0"
	}
	return decimal.NewFromInt(quote).
		DivRound(decimal.NewFromInt(base), priceDecimals).
		String()
}
