package enums

import (
	"fmt"
	"strings"
)

// Currency represents the ISO currency codes the register accepts.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyEUR Currency = "eur"
	CurrencyGBP Currency = "gbp"
	CurrencyCAD Currency = "cad"
	CurrencyAUD Currency = "aud"
	CurrencyJPY Currency = "jpy"
)

var validCurrencies = []Currency{
	CurrencyUSD,
	CurrencyEUR,
	CurrencyGBP,
	CurrencyCAD,
	CurrencyAUD,
	CurrencyJPY,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// MinorUnitFactor returns the multiplier from major to minor units.
// JPY is a zero-decimal currency at the provider.
func (c Currency) MinorUnitFactor() int64 {
	if c == CurrencyJPY {
		return 1
	}
	return 100
}

// ParseCurrency converts a raw string into a Currency, case-insensitively.
func ParseCurrency(value string) (Currency, error) {
	lowered := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validCurrencies {
		if string(candidate) == lowered {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
