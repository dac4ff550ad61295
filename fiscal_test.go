package accounting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFiscalCalendar(t *testing.T) *FiscalCalendar {
	t.Helper()
	return NewFiscalCalendar(newTestStorage(t), NewValidator())
}

func TestCreateOrganizationAndCompany(t *testing.T) {
	cal := newTestFiscalCalendar(t)

	org, err := cal.CreateOrganization("Acme Holdings")
	require.NoError(t, err)
	assert.NotEmpty(t, org.ID)
	assert.True(t, org.Active)

	company, err := cal.CreateCompany(org.ID, "Acme US", "USD")
	require.NoError(t, err)
	assert.Equal(t, org.ID, company.OrganizationID)
	assert.True(t, company.Active)
}

func TestCreateFiscalYearTwelvePeriods(t *testing.T) {
	cal := newTestFiscalCalendar(t)
	org, err := cal.CreateOrganization("Acme Holdings")
	require.NoError(t, err)
	company, err := cal.CreateCompany(org.ID, "Acme US", "USD")
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	fy, periods, err := cal.CreateFiscalYear(company.ID, "FY2026", start, end, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, len(periods))
	for _, p := range periods {
		assert.False(t, p.IsClosingPeriod)
		assert.Equal(t, fy.ID, p.FiscalYearID)
	}
}

func TestCreateFiscalYearThirteenPeriods(t *testing.T) {
	cal := newTestFiscalCalendar(t)
	org, err := cal.CreateOrganization("Acme Holdings")
	require.NoError(t, err)
	company, err := cal.CreateCompany(org.ID, "Acme US", "USD")
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	_, periods, err := cal.CreateFiscalYear(company.ID, "FY2026", start, end, 13)
	require.NoError(t, err)
	require.Equal(t, 13, len(periods))
	assert.True(t, periods[12].IsClosingPeriod)
	assert.Equal(t, 13, periods[12].Number)
}

func TestCreateFiscalYearRejectsBadPeriodCount(t *testing.T) {
	cal := newTestFiscalCalendar(t)
	org, err := cal.CreateOrganization("Acme Holdings")
	require.NoError(t, err)
	company, err := cal.CreateCompany(org.ID, "Acme US", "USD")
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _, err = cal.CreateFiscalYear(company.ID, "FY2026", start, start.AddDate(1, 0, 0), 4)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrValidation))
}

func TestResolvePeriodForDateExcludesClosingPeriod(t *testing.T) {
	cal := newTestFiscalCalendar(t)
	org, err := cal.CreateOrganization("Acme Holdings")
	require.NoError(t, err)
	company, err := cal.CreateCompany(org.ID, "Acme US", "USD")
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	fy, _, err := cal.CreateFiscalYear(company.ID, "FY2026", start, end, 13)
	require.NoError(t, err)

	period, err := cal.ResolvePeriodForDate(fy.ID, start.AddDate(0, 0, 15))
	require.NoError(t, err)
	assert.Equal(t, 1, period.Number)
	assert.False(t, period.IsClosingPeriod)

	_, err = cal.ResolvePeriodForDate(fy.ID, end)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrNotFound))
}

func TestClosePeriodAndReopenRecordsHistory(t *testing.T) {
	cal := newTestFiscalCalendar(t)
	org, err := cal.CreateOrganization("Acme Holdings")
	require.NoError(t, err)
	company, err := cal.CreateCompany(org.ID, "Acme US", "USD")
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, periods, err := cal.CreateFiscalYear(company.ID, "FY2026", start, start.AddDate(1, 0, 0), 12)
	require.NoError(t, err)

	period := periods[0]
	require.NoError(t, cal.ClosePeriod(period.ID))

	reloaded, err := cal.storage.GetFiscalPeriod(period.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Closed)

	require.NoError(t, cal.OpenPeriod(period.ID, "controller", "correcting a mis-posted entry"))
	reloaded, err = cal.storage.GetFiscalPeriod(period.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Closed)
	require.Len(t, reloaded.ReopenHistory, 1)
	assert.Equal(t, "controller", reloaded.ReopenHistory[0].ReopenedBy)
}

func TestDeactivateCompanyBlockedByUnpostedEntries(t *testing.T) {
	engine := newTestEngine(t)
	org, err := engine.Fiscal.CreateOrganization("Acme Holdings")
	require.NoError(t, err)
	company, err := engine.Fiscal.CreateCompany(org.ID, "Acme US", "USD")
	require.NoError(t, err)

	cash, err := engine.Accounts.CreateAccount(CreateAccountInput{CompanyID: company.ID, Number: "1000", Name: "Cash", Type: Asset, Currency: "USD", Postable: true})
	require.NoError(t, err)
	revenue, err := engine.Accounts.CreateAccount(CreateAccountInput{CompanyID: company.ID, Number: "4000", Name: "Revenue", Type: Income, Currency: "USD", Postable: true})
	require.NoError(t, err)

	_, err = engine.Journal.CreateDraft(CreateDraftInput{
		CompanyID:       company.ID,
		Description:     "unposted sale",
		TransactionDate: time.Now(),
		PreparedBy:      "clerk",
		Lines: []JournalEntryLine{
			{AccountID: cash.ID, Side: Debit, Amount: mustMoney(t, "100.00", "USD")},
			{AccountID: revenue.ID, Side: Credit, Amount: mustMoney(t, "100.00", "USD")},
		},
	})
	require.NoError(t, err)

	err = engine.Fiscal.DeactivateCompany(company.ID)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidStateTransition))
}
