package money

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultSymbol = "£"

// MaxAmount is the largest value the sales table's numeric(14, 2) column holds.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// Plain digits with at most two decimals. "12." is kept as a valid draft.
var amountPattern = regexp.MustCompile(`^(\d+(\.\d{0,2})?|\.\d{1,2})$`)

type threshold struct {
	value  decimal.Decimal
	suffix string
}

var thresholds = []threshold{
	{value: decimal.New(1, 12), suffix: "T"},
	{value: decimal.New(1, 9), suffix: "B"},
	{value: decimal.New(1, 6), suffix: "M"},
	{value: decimal.New(1, 3), suffix: "K"},
	{value: decimal.NewFromInt(1), suffix: ""},
}

// ParseAmount parses user-entered money text. Only plain decimal notation in
// currency precision up to MaxAmount is accepted; exponents, signs, extra
// decimals and partial input are reported as not ok so callers can keep them
// distinct from an explicit zero.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(raw)
	if !amountPattern.MatchString(trimmed) {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(strings.TrimSuffix(trimmed, "."))
	if err != nil || amount.IsNegative() || amount.GreaterThan(MaxAmount) {
		return decimal.Zero, false
	}
	return amount, true
}

// Format renders an amount with K/M/B/T abbreviations, e.g. £3.99, £5, £1.50K.
func Format(amount decimal.Decimal, symbol string) string {
	if symbol == "" {
		symbol = DefaultSymbol
	}
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Abs()
	}

	for _, t := range thresholds {
		if amount.GreaterThanOrEqual(t.value) {
			scaled := amount.Div(t.value).StringFixed(2)
			scaled = strings.TrimSuffix(scaled, ".00")
			return sign + symbol + scaled + t.suffix
		}
	}
	return sign + symbol + amount.StringFixed(2)
}

// Fixed renders a plain two-decimal amount for machine-readable exports.
func Fixed(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
