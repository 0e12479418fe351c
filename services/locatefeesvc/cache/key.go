package cache

import (
	"fmt"
	"strings"

	"locatefeesvc/services/locatefeesvc/money"
)

// Key normalizes inputs (trimming and uppercasing each part) inside the cache
// layer so equivalent inputs always collide, per spec §4.3. Fixed-scale
// decimal formatting is LocateFeeKey's job, not Key's.
func Key(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	return strings.Join(normalized, "|")
}

// LocateFeeKey builds the composite key for the locate_fee namespace:
// ticker+position(2dp)+days+markup(2dp)+feeType+feeAmount(2dp).
func LocateFeeKey(ticker string, position money.Decimal, loanDays int, markup money.Decimal, feeType string, feeAmount money.Decimal) string {
	return Key(
		ticker,
		position.StringFixed(2),
		fmt.Sprintf("%d", loanDays),
		markup.StringFixed(2),
		feeType,
		feeAmount.StringFixed(2),
	)
}
