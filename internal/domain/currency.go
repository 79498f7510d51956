package domain

import (
	"fmt"
	"strings"
)

// Currency identifies one of the fixed economy currencies
type Currency string

const (
	CurrencySoft           Currency = "soft"
	CurrencyPremium        Currency = "premium"
	CurrencyCoachingCredit Currency = "coaching_credit"
)

// CappedCurrency is the only currency whose accrual is bounded per wallet.
const CappedCurrency = CurrencyCoachingCredit

// Currencies lists the supported currencies in display order.
var Currencies = []Currency{CurrencySoft, CurrencyPremium, CurrencyCoachingCredit}

var currencyAliases = map[string]Currency{
	"soft":             CurrencySoft,
	"coins":            CurrencySoft,
	"coin":             CurrencySoft,
	"premium":          CurrencyPremium,
	"gems":             CurrencyPremium,
	"gem":              CurrencyPremium,
	"coaching_credit":  CurrencyCoachingCredit,
	"coaching_credits": CurrencyCoachingCredit,
	"coachingcredit":   CurrencyCoachingCredit,
	"coachingcredits":  CurrencyCoachingCredit,
	"credits":          CurrencyCoachingCredit,
	"credit":           CurrencyCoachingCredit,
	"utility":          CurrencyCoachingCredit,
}

// ResolveCurrency maps a currency name or legacy alias onto the closed set.
// Matching is case-insensitive.
func ResolveCurrency(name string) (Currency, error) {
	c, ok := currencyAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, name)
	}
	return c, nil
}

// IsCapped reports whether the currency is subject to the wallet cap
func (c Currency) IsCapped() bool {
	return c == CappedCurrency
}

func (c Currency) String() string {
	return string(c)
}
