package accounting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyArithmetic(t *testing.T) {
	a := mustMoney(t, "100.50", "USD")
	b := mustMoney(t, "25.25", "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "125.75", sum.Amount.StringFixed(2))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "75.25", diff.Amount.StringFixed(2))

	assert.Equal(t, "-100.50", a.Neg().Amount.StringFixed(2))
	assert.True(t, ZeroMoney("USD").IsZero())
	assert.False(t, a.IsZero())
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	usd := mustMoney(t, "10.00", "USD")
	eur := mustMoney(t, "10.00", "EUR")

	_, err := usd.Add(eur)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCurrencyMismatch))

	_, err = usd.Cmp(eur)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCurrencyMismatch))
}

func TestMoneyConvert(t *testing.T) {
	eur := mustMoney(t, "100.00", "EUR")
	rate := ExchangeRate{FromCurrency: "EUR", ToCurrency: "USD", Rate: decimal.RequireFromString("1.0850")}

	usd, err := eur.Convert(rate)
	require.NoError(t, err)
	assert.Equal(t, CurrencyCode("USD"), usd.Currency)
	assert.Equal(t, "108.50", usd.Amount.StringFixed(2))
}

func TestMoneyConvertWrongCurrency(t *testing.T) {
	usd := mustMoney(t, "100.00", "USD")
	rate := ExchangeRate{FromCurrency: "EUR", ToCurrency: "USD", Rate: decimal.RequireFromString("1.10")}

	_, err := usd.Convert(rate)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCurrencyMismatch))
}

func TestMoneyCmp(t *testing.T) {
	a := mustMoney(t, "10.00", "USD")
	b := mustMoney(t, "20.00", "USD")

	cmp, err := a.Cmp(b)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = a.Cmp(a)
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)
}
