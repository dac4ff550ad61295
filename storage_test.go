package accounting

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndGetOrganizationRoundTrips(t *testing.T) {
	storage := newTestStorage(t)
	org := &Organization{ID: uuid.New().String(), Name: "Acme Holdings", Active: true, CreatedAt: time.Now()}
	require.NoError(t, storage.SaveOrganization(org))

	reloaded, err := storage.GetOrganization(org.ID)
	require.NoError(t, err)
	assert.Equal(t, org.Name, reloaded.Name)
	assert.True(t, reloaded.Active)
}

func TestGetOrganizationMissingReturnsNotFound(t *testing.T) {
	storage := newTestStorage(t)
	_, err := storage.GetOrganization(uuid.New().String())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrNotFound))
}

func TestGetAccountsByCompanyFiltersByCompany(t *testing.T) {
	storage := newTestStorage(t)
	companyA, companyB := uuid.New().String(), uuid.New().String()
	a1 := &Account{ID: uuid.New().String(), CompanyID: companyA, Number: "1000", Name: "Cash", Type: Asset, Currency: "USD", Postable: true}
	a2 := &Account{ID: uuid.New().String(), CompanyID: companyA, Number: "2000", Name: "AP", Type: Liability, Currency: "USD", Postable: true}
	b1 := &Account{ID: uuid.New().String(), CompanyID: companyB, Number: "1000", Name: "Cash", Type: Asset, Currency: "USD", Postable: true}
	require.NoError(t, storage.SaveAccount(a1))
	require.NoError(t, storage.SaveAccount(a2))
	require.NoError(t, storage.SaveAccount(b1))

	accounts, err := storage.GetAccountsByCompany(companyA)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestNextEntryNumberIsMonotonicPerCompany(t *testing.T) {
	storage := newTestStorage(t)
	companyA, companyB := uuid.New().String(), uuid.New().String()

	n1, err := storage.NextEntryNumber(companyA)
	require.NoError(t, err)
	n2, err := storage.NextEntryNumber(companyA)
	require.NoError(t, err)
	n3, err := storage.NextEntryNumber(companyB)
	require.NoError(t, err)

	assert.Equal(t, 1, n1)
	assert.Equal(t, 2, n2)
	assert.Equal(t, 1, n3, "a different company's sequence starts independently")
}

func TestGetExchangeRatesFiltersByCurrencyPair(t *testing.T) {
	storage := newTestStorage(t)
	now := time.Now()
	eurUsd := &ExchangeRate{ID: uuid.New().String(), FromCurrency: "EUR", ToCurrency: "USD", Rate: decimal.RequireFromString("1.10"), RateType: RateSpot, EffectiveAt: now}
	gbpUsd := &ExchangeRate{ID: uuid.New().String(), FromCurrency: "GBP", ToCurrency: "USD", Rate: decimal.RequireFromString("1.27"), RateType: RateSpot, EffectiveAt: now}
	require.NoError(t, storage.SaveExchangeRatesBatch([]*ExchangeRate{eurUsd, gbpUsd}))

	rates, err := storage.GetExchangeRates("EUR", "USD")
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, eurUsd.ID, rates[0].ID)
}

func TestGetUnmatchedIntercompanyTransactionsExcludesMatched(t *testing.T) {
	storage := newTestStorage(t)
	groupID := uuid.New().String()
	unmatched := &IntercompanyTransaction{ID: uuid.New().String(), GroupID: groupID, CompanyID: "parent", Status: ICUnmatched, Amount: mustMoney(t, "100.00", "USD")}
	matched := &IntercompanyTransaction{ID: uuid.New().String(), GroupID: groupID, CompanyID: "sub", Status: ICMatched, Amount: mustMoney(t, "100.00", "USD")}
	require.NoError(t, storage.SaveIntercompanyTransaction(unmatched))
	require.NoError(t, storage.SaveIntercompanyTransaction(matched))

	open, err := storage.GetUnmatchedIntercompanyTransactions(groupID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, unmatched.ID, open[0].ID)
}

func TestGetAuditEventsFiltersByTimeWindow(t *testing.T) {
	storage := newTestStorage(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	early := AuditEvent{EntityID: "entry-1", RecordedAt: base}
	inWindow := AuditEvent{EntityID: "entry-2", RecordedAt: base.Add(time.Hour)}
	late := AuditEvent{EntityID: "entry-3", RecordedAt: base.Add(48 * time.Hour)}
	require.NoError(t, storage.AppendAuditEvent(early))
	require.NoError(t, storage.AppendAuditEvent(inWindow))
	require.NoError(t, storage.AppendAuditEvent(late))

	events, err := storage.GetAuditEvents(base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
}
