// Package money holds the fixed-point helpers used for every monetary value:
// USD amounts, display-currency conversion and gateway minor units.
package money

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// USD is the source-of-truth currency for all stored amounts.
const USD = "USD"

// MinorUnits is the number of decimal places for every supported currency.
const MinorUnits = 2

var hundred = decimal.NewFromInt(100)

// ErrUnsupportedCurrency is returned for codes outside the supported set.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// ErrInvalidRate is returned when an exchange rate is zero or negative.
var ErrInvalidRate = errors.New("exchange rate must be positive")

var supported = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "CAD": {}, "AUD": {},
	"NZD": {}, "CHF": {}, "SEK": {}, "NOK": {}, "DKK": {},
	"PLN": {}, "CZK": {}, "SGD": {}, "HKD": {}, "MXN": {},
}

// NormalizeCurrency upper-cases code and checks it is supported.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return USD, nil
	}
	if _, ok := supported[c]; !ok {
		return "", errors.Wrapf(ErrUnsupportedCurrency, "%q", code)
	}
	return c, nil
}

// Round rounds to the currency minor unit, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

// Convert maps a USD amount into a display currency at the given rate.
// The converter holds no state and never fetches rates.
func Convert(amountUSD, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	return Round(amountUSD.Mul(rate)), nil
}

// ToMinor converts an amount into integer minor units: round(amount × 100).
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinor converts integer minor units back to a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnits)
}
