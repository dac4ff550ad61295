package accounting

// Monetary amounts use arbitrary-precision decimal arithmetic throughout the
// ledger. No float64 ever touches an account balance: every exchange rate,
// journal amount, and report total is a decimal.Decimal with an explicit
// scale, so debit/credit totals compare exactly rather than within epsilon.

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyCode is an ISO-4217 code (e.g. "USD", "EUR", "JPY").
type CurrencyCode string

// Money pairs a decimal amount with the currency it is denominated in.
// Arithmetic between two Money values of different currencies is a
// programming error and returns ErrCurrencyMismatch rather than silently
// mixing units.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency CurrencyCode    `json:"currency"`
}

// ZeroMoney returns the additive identity for a currency.
func ZeroMoney(currency CurrencyCode) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// NewMoney builds a Money from a decimal string, e.g. "1234.56".
func NewMoney(amount string, currency CurrencyCode) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, newDomainErr(ErrValidation, "invalid decimal amount", err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return newDomainErr(ErrCurrencyMismatch, fmt.Sprintf("cannot combine %s with %s", m.Currency, other.Currency))
	}
	return nil
}

// Add returns m + other. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. Both operands must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Neg returns the additive inverse, used when flipping debit/credit sides
// on a reversing entry.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// MulScalar scales m by a plain decimal factor, e.g. an ownership percentage.
func (m Money) MulScalar(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// Convert applies an exchange rate, producing a Money in the rate's quote
// currency. rate.FromCurrency must match m.Currency.
func (m Money) Convert(rate ExchangeRate) (Money, error) {
	if rate.FromCurrency != m.Currency {
		return Money{}, newDomainErr(ErrCurrencyMismatch, fmt.Sprintf("rate is from %s, amount is in %s", rate.FromCurrency, m.Currency))
	}
	converted := m.Amount.Mul(rate.Rate).RoundBank(decimalScale)
	return Money{Amount: converted, Currency: rate.ToCurrency}, nil
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// Cmp compares two same-currency amounts: -1, 0, or 1.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// decimalScale is the number of fractional digits retained after rounding
// an FX conversion, matching typical minor-unit currency precision.
const decimalScale = 2

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(decimalScale), m.Currency)
}

// decimalFromInt lifts a small integer multiplier (+1/-1 from
// NormalBalanceMultiplier) into a decimal.Decimal for use with MulScalar.
func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}
