package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyExponent is the number of minor-unit digits for the supported currencies.
const CurrencyExponent = 2

// FormatAmount renders minor units with the gateway's fixed decimal precision, e.g. 15000 -> "150.00".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -CurrencyExponent).StringFixed(CurrencyExponent)
}

// ParseAmount converts a decimal amount string into minor units, rounding half-up
// at the currency exponent. Accepts "150", "150.00" and "150,00".
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %q", s)
	}
	return d.Shift(CurrencyExponent).Round(0).IntPart(), nil
}
