package accounting

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	storage, err := NewStorage(dbFile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	engine, err := NewEngine(dbFile, decimal.RequireFromString("1.00"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func mustMoney(t *testing.T, amount string, currency CurrencyCode) Money {
	t.Helper()
	m, err := NewMoney(amount, currency)
	require.NoError(t, err)
	return m
}
