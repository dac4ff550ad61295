package accounting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type consolidationFixture struct {
	engine       *Engine
	org          *Organization
	parent       *Company
	sub          *Company
	parentCash   *Account
	parentRev    *Account
	parentICRecv *Account
	subCash      *Account
	subExpense   *Account
	subICPay     *Account
	txnDate      time.Time
}

// newConsolidationFixture builds a two-company group sharing one functional
// currency, so no exchange rates are needed to exercise the pipeline.
func newConsolidationFixture(t *testing.T) consolidationFixture {
	t.Helper()
	engine := newTestEngine(t)
	org, err := engine.Fiscal.CreateOrganization("Acme Holdings")
	require.NoError(t, err)
	parent, err := engine.Fiscal.CreateCompany(org.ID, "Acme US", "USD")
	require.NoError(t, err)
	sub, err := engine.Fiscal.CreateCompany(org.ID, "Acme Sub", "USD")
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	_, _, err = engine.Fiscal.CreateFiscalYear(parent.ID, "FY2026", start, end, 12)
	require.NoError(t, err)
	_, _, err = engine.Fiscal.CreateFiscalYear(sub.ID, "FY2026", start, end, 12)
	require.NoError(t, err)

	parentCash, err := engine.Accounts.CreateAccount(CreateAccountInput{CompanyID: parent.ID, Number: "1010", Name: "Cash", Type: Asset, Currency: "USD", Postable: true})
	require.NoError(t, err)
	parentRev, err := engine.Accounts.CreateAccount(CreateAccountInput{CompanyID: parent.ID, Number: "4100", Name: "Revenue", Type: Income, Currency: "USD", Postable: true})
	require.NoError(t, err)
	parentICRecv, err := engine.Accounts.CreateAccount(CreateAccountInput{CompanyID: parent.ID, Number: "1900", Name: "Intercompany Receivable", Type: Asset, Currency: "USD", Postable: true, Intercompany: true})
	require.NoError(t, err)

	subCash, err := engine.Accounts.CreateAccount(CreateAccountInput{CompanyID: sub.ID, Number: "1010", Name: "Cash", Type: Asset, Currency: "USD", Postable: true})
	require.NoError(t, err)
	subExpense, err := engine.Accounts.CreateAccount(CreateAccountInput{CompanyID: sub.ID, Number: "5200", Name: "Contractor Expense", Type: Expense, Currency: "USD", Postable: true})
	require.NoError(t, err)
	subICPay, err := engine.Accounts.CreateAccount(CreateAccountInput{CompanyID: sub.ID, Number: "2900", Name: "Intercompany Payable", Type: Liability, Currency: "USD", Postable: true, Intercompany: true})
	require.NoError(t, err)

	txnDate := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	return consolidationFixture{
		engine: engine, org: org, parent: parent, sub: sub,
		parentCash: parentCash, parentRev: parentRev, parentICRecv: parentICRecv,
		subCash: subCash, subExpense: subExpense, subICPay: subICPay,
		txnDate: txnDate,
	}
}

func (f consolidationFixture) post(t *testing.T, companyID string, lines []JournalEntryLine) *JournalEntry {
	t.Helper()
	draft, err := f.engine.Journal.CreateDraft(CreateDraftInput{
		CompanyID:       companyID,
		TransactionDate: f.txnDate,
		Description:     "fixture entry",
		PreparedBy:      "clerk",
		Lines:           lines,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Journal.SubmitForApproval(draft.ID))
	require.NoError(t, f.engine.Journal.Approve(draft.ID, "controller"))
	require.NoError(t, f.engine.Journal.Post(draft.ID))
	posted, err := f.engine.Journal.storage.GetJournalEntry(draft.ID)
	require.NoError(t, err)
	return posted
}

func (f consolidationFixture) closeCurrentPeriods(t *testing.T) {
	t.Helper()
	for _, companyID := range []string{f.parent.ID, f.sub.ID} {
		fy, err := f.engine.Journal.storage.GetCurrentFiscalYear(companyID, f.txnDate)
		require.NoError(t, err)
		period, err := f.engine.Fiscal.ResolvePeriodForDate(fy.ID, f.txnDate)
		require.NoError(t, err)
		require.NoError(t, f.engine.Fiscal.ClosePeriod(period.ID))
	}
}

func TestConsolidationRunFullPipelineEliminatesIntercompanyBalance(t *testing.T) {
	f := newConsolidationFixture(t)

	f.post(t, f.parent.ID, []JournalEntryLine{
		{AccountID: f.parentCash.ID, Side: Debit, Amount: mustMoney(t, "50000.00", "USD")},
		{AccountID: f.parentRev.ID, Side: Credit, Amount: mustMoney(t, "50000.00", "USD")},
	})
	f.post(t, f.sub.ID, []JournalEntryLine{
		{AccountID: f.subExpense.ID, Side: Debit, Amount: mustMoney(t, "5000.00", "USD")},
		{AccountID: f.subCash.ID, Side: Credit, Amount: mustMoney(t, "5000.00", "USD")},
	})
	parentAdvance := f.post(t, f.parent.ID, []JournalEntryLine{
		{AccountID: f.parentICRecv.ID, Side: Debit, Amount: mustMoney(t, "8000.00", "USD")},
		{AccountID: f.parentCash.ID, Side: Credit, Amount: mustMoney(t, "8000.00", "USD")},
	})
	subAdvance := f.post(t, f.sub.ID, []JournalEntryLine{
		{AccountID: f.subCash.ID, Side: Debit, Amount: mustMoney(t, "8000.00", "USD")},
		{AccountID: f.subICPay.ID, Side: Credit, Amount: mustMoney(t, "8000.00", "USD")},
	})

	group, err := f.engine.Consolidation.CreateGroup(&ConsolidationGroup{
		OrganizationID: f.org.ID, Name: "Acme Group", ParentCompanyID: f.parent.ID, ReportingCurrency: "USD",
		Members: []GroupMember{{CompanyID: f.sub.ID, OwnershipPercent: decimal.NewFromFloat(0.80)}},
	})
	require.NoError(t, err)
	_, err = f.engine.Consolidation.CreateEliminationRule(&EliminationRule{
		GroupID: group.ID, Name: "Intercompany advance", SourceAccountID: f.parentICRecv.ID, TargetAccountID: f.subICPay.ID,
	})
	require.NoError(t, err)

	advanceAmount := mustMoney(t, "8000.00", "USD")
	_, err = f.engine.Intercompany.RecordTransaction(&IntercompanyTransaction{
		GroupID: group.ID, CompanyID: f.parent.ID, CounterpartyCompanyID: f.sub.ID,
		JournalEntryLineID: parentAdvance.Lines[0].ID, Amount: advanceAmount,
	})
	require.NoError(t, err)
	_, err = f.engine.Intercompany.RecordTransaction(&IntercompanyTransaction{
		GroupID: group.ID, CompanyID: f.sub.ID, CounterpartyCompanyID: f.parent.ID,
		JournalEntryLineID: subAdvance.Lines[1].ID, Amount: advanceAmount.Neg(),
	})
	require.NoError(t, err)

	f.closeCurrentPeriods(t)

	run, err := f.engine.Consolidation.StartRun(group.ID, f.txnDate)
	require.NoError(t, err)
	run, err = f.engine.Consolidation.Resume(run.ID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, run.Status)
	require.NotNil(t, run.TrialBalance)

	byAccount := map[string]Money{}
	for _, line := range run.TrialBalance.Lines {
		byAccount[line.AccountID] = line.Balance
	}

	// Both legs of the matched intercompany pair must be fully eliminated,
	// not just one side, and not doubled on the other.
	assert.True(t, byAccount[f.parentICRecv.ID].IsZero(), "intercompany receivable should net to zero after elimination")
	assert.True(t, byAccount[f.subICPay.ID].IsZero(), "intercompany payable should net to zero after elimination")

	assert.Equal(t, "50000.00", byAccount[f.parentRev.ID].Amount.StringFixed(2))
	assert.Equal(t, "5000.00", byAccount[f.subExpense.ID].Amount.StringFixed(2))
}

func TestConsolidationStepValidateBlocksOnOpenPeriod(t *testing.T) {
	f := newConsolidationFixture(t)
	f.post(t, f.parent.ID, []JournalEntryLine{
		{AccountID: f.parentCash.ID, Side: Debit, Amount: mustMoney(t, "100.00", "USD")},
		{AccountID: f.parentRev.ID, Side: Credit, Amount: mustMoney(t, "100.00", "USD")},
	})
	f.post(t, f.sub.ID, []JournalEntryLine{
		{AccountID: f.subExpense.ID, Side: Debit, Amount: mustMoney(t, "50.00", "USD")},
		{AccountID: f.subCash.ID, Side: Credit, Amount: mustMoney(t, "50.00", "USD")},
	})

	group, err := f.engine.Consolidation.CreateGroup(&ConsolidationGroup{
		OrganizationID: f.org.ID, Name: "Acme Group", ParentCompanyID: f.parent.ID, ReportingCurrency: "USD",
		Members: []GroupMember{{CompanyID: f.sub.ID, OwnershipPercent: decimal.NewFromFloat(1.0)}},
	})
	require.NoError(t, err)

	run, err := f.engine.Consolidation.StartRun(group.ID, f.txnDate)
	require.NoError(t, err)
	run, err = f.engine.Consolidation.Resume(run.ID)
	require.Error(t, err)
	assert.Equal(t, RunFailed, run.Status)
	assert.True(t, IsCode(err, ErrConsolidationRunFailed))
}

func TestConsolidationStepValidateBlocksOnUnpostedEntries(t *testing.T) {
	f := newConsolidationFixture(t)
	_, err := f.engine.Journal.CreateDraft(CreateDraftInput{
		CompanyID:       f.parent.ID,
		TransactionDate: f.txnDate,
		Description:     "still a draft",
		PreparedBy:      "clerk",
		Lines: []JournalEntryLine{
			{AccountID: f.parentCash.ID, Side: Debit, Amount: mustMoney(t, "100.00", "USD")},
			{AccountID: f.parentRev.ID, Side: Credit, Amount: mustMoney(t, "100.00", "USD")},
		},
	})
	require.NoError(t, err)
	f.closeCurrentPeriods(t)

	group, err := f.engine.Consolidation.CreateGroup(&ConsolidationGroup{
		OrganizationID: f.org.ID, Name: "Acme Group", ParentCompanyID: f.parent.ID, ReportingCurrency: "USD",
		Members: []GroupMember{{CompanyID: f.sub.ID, OwnershipPercent: decimal.NewFromFloat(1.0)}},
	})
	require.NoError(t, err)

	run, err := f.engine.Consolidation.StartRun(group.ID, f.txnDate)
	require.NoError(t, err)
	_, err = f.engine.Consolidation.Resume(run.ID)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrConsolidationRunFailed))
}

func TestConsolidationRunIsResumableAfterFailure(t *testing.T) {
	f := newConsolidationFixture(t)
	f.post(t, f.parent.ID, []JournalEntryLine{
		{AccountID: f.parentCash.ID, Side: Debit, Amount: mustMoney(t, "1000.00", "USD")},
		{AccountID: f.parentRev.ID, Side: Credit, Amount: mustMoney(t, "1000.00", "USD")},
	})
	f.post(t, f.sub.ID, []JournalEntryLine{
		{AccountID: f.subExpense.ID, Side: Debit, Amount: mustMoney(t, "400.00", "USD")},
		{AccountID: f.subCash.ID, Side: Credit, Amount: mustMoney(t, "400.00", "USD")},
	})

	group, err := f.engine.Consolidation.CreateGroup(&ConsolidationGroup{
		OrganizationID: f.org.ID, Name: "Acme Group", ParentCompanyID: f.parent.ID, ReportingCurrency: "USD",
		Members: []GroupMember{{CompanyID: f.sub.ID, OwnershipPercent: decimal.NewFromFloat(1.0)}},
	})
	require.NoError(t, err)

	run, err := f.engine.Consolidation.StartRun(group.ID, f.txnDate)
	require.NoError(t, err)

	// First attempt fails at StepValidate because the periods aren't closed yet.
	run, err = f.engine.Consolidation.Resume(run.ID)
	require.Error(t, err)
	assert.Equal(t, RunFailed, run.Status)
	assert.Empty(t, run.CompletedSteps)

	f.closeCurrentPeriods(t)

	run, err = f.engine.Consolidation.Resume(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
}

func TestConsolidationStepNCIAppliesOwnershipShare(t *testing.T) {
	f := newConsolidationFixture(t)
	f.post(t, f.parent.ID, []JournalEntryLine{
		{AccountID: f.parentCash.ID, Side: Debit, Amount: mustMoney(t, "1000.00", "USD")},
		{AccountID: f.parentRev.ID, Side: Credit, Amount: mustMoney(t, "1000.00", "USD")},
	})
	subRevenue, err := f.engine.Accounts.CreateAccount(CreateAccountInput{CompanyID: f.sub.ID, Number: "4100", Name: "Sub Revenue", Type: Income, Currency: "USD", Postable: true})
	require.NoError(t, err)
	f.post(t, f.sub.ID, []JournalEntryLine{
		{AccountID: f.subCash.ID, Side: Debit, Amount: mustMoney(t, "1000.00", "USD")},
		{AccountID: subRevenue.ID, Side: Credit, Amount: mustMoney(t, "1000.00", "USD")},
	})

	group, err := f.engine.Consolidation.CreateGroup(&ConsolidationGroup{
		OrganizationID: f.org.ID, Name: "Acme Group", ParentCompanyID: f.parent.ID, ReportingCurrency: "USD",
		Members: []GroupMember{{CompanyID: f.sub.ID, OwnershipPercent: decimal.NewFromFloat(0.80)}},
	})
	require.NoError(t, err)

	f.closeCurrentPeriods(t)

	run, err := f.engine.Consolidation.StartRun(group.ID, f.txnDate)
	require.NoError(t, err)
	run, err = f.engine.Consolidation.Resume(run.ID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, run.Status)

	for _, line := range run.TrialBalance.Lines {
		if line.AccountID == subRevenue.ID {
			// 20% non-controlling interest share removed from the
			// consolidated figure: 1000.00 * (1 - 0.80) = 200.00 stripped out.
			assert.Equal(t, "800.00", line.Balance.Amount.StringFixed(2))
		}
	}
}
