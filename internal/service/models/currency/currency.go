package currency

import (
	"database/sql/driver"
	"errors"
)

// Currency is an ISO 4217 code. The M-Pesa rail settles in Kenyan shillings only.
type Currency string

const (
	CurrencyKES Currency = "KES"
)

var ErrInvalidCurrency = errors.New("invalid currency")

func (c Currency) String() string {
	return string(c)
}

func (c Currency) Value() (driver.Value, error) {
	return c.String(), nil
}

func ParseCurrency(s string) (Currency, error) {
	switch s {
	case CurrencyKES.String():
		return CurrencyKES, nil
	default:
		return "", ErrInvalidCurrency
	}
}
