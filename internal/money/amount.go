package money

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// ParseAmount reads free-text input as whole currency units. Every non-digit
// character is dropped, so "1.234", "1,234" and "$ 1 234" all read as 1234.
// Empty input yields 0, and so do digit runs too long for an int64.
func ParseAmount(text string) int64 {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	units, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return units
}

// FormatAmount renders whole units with a separator every three digits.
func FormatAmount(units int64) string {
	return amountPrinter.Sprintf("%d", units)
}

// ParseAmountMoney is ParseAmount lifted into Money.
func ParseAmountMoney(text string) Money {
	return FromUnits(ParseAmount(text))
}

// FormatMoney renders m with grouped whole units and two decimals.
func FormatMoney(m Money) string {
	whole, frac, _ := strings.Cut(m.amount.Abs().StringFixed(2), ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return m.String()
	}
	sign := ""
	if m.IsNegative() {
		sign = "-"
	}
	return sign + FormatAmount(units) + "." + frac
}
