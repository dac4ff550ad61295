package accounting

// Financial statement construction from posted balances: trial balance,
// balance sheet, income statement, cash flow (direct and indirect), and
// statement of equity, for a single company or for a completed
// consolidation run's trial balance.

import (
	"fmt"
	"time"
)

// TrialBalanceReport is the raw account-by-account balance listing a
// statement is built from.
type TrialBalanceReport struct {
	CompanyID string             `json:"company_id,omitempty"`
	GroupID   string             `json:"group_id,omitempty"`
	AsOf      time.Time          `json:"as_of"`
	Lines     []TrialBalanceLine `json:"lines"`
}

// StatementLine is a single labeled amount within a financial statement.
type StatementLine struct {
	Label  string `json:"label"`
	Amount Money  `json:"amount"`
}

// BalanceSheet groups balances into assets, liabilities, and equity.
type BalanceSheet struct {
	AsOf         time.Time       `json:"as_of"`
	Assets       []StatementLine `json:"assets"`
	Liabilities  []StatementLine `json:"liabilities"`
	Equity       []StatementLine `json:"equity"`
	TotalAssets  Money           `json:"total_assets"`
	TotalLiabilitiesAndEquity Money `json:"total_liabilities_and_equity"`
}

// IncomeStatement groups balances into revenue and expense, down to net
// income.
type IncomeStatement struct {
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Revenue     []StatementLine `json:"revenue"`
	Expenses    []StatementLine `json:"expenses"`
	NetIncome   Money           `json:"net_income"`
}

// EquityStatement shows the roll-forward of each equity account across a
// period: opening balance, the period's net movement, and the closing
// balance.
type EquityStatement struct {
	PeriodStart time.Time            `json:"period_start"`
	PeriodEnd   time.Time            `json:"period_end"`
	Lines       []EquityRollForward  `json:"lines"`
}

// EquityRollForward is one equity account's opening/movement/closing
// balances for the period.
type EquityRollForward struct {
	AccountID string `json:"account_id"`
	Opening   Money  `json:"opening"`
	Movement  Money  `json:"movement"`
	Closing   Money  `json:"closing"`
}

// CashFlowMethod selects between the direct and indirect cash flow
// presentation.
type CashFlowMethod string

const (
	CashFlowDirect   CashFlowMethod = "DIRECT"
	CashFlowIndirect CashFlowMethod = "INDIRECT"
)

// CashFlowStatement reports operating, investing, and financing activity
// for a period.
type CashFlowStatement struct {
	Method      CashFlowMethod  `json:"method"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Operating   []StatementLine `json:"operating"`
	Investing   []StatementLine `json:"investing"`
	Financing   []StatementLine `json:"financing"`
	NetChange   Money           `json:"net_change"`
}

// ReportingService builds financial statements from posted journal
// entries or a completed consolidation run.
type ReportingService struct {
	storage *Storage
}

// NewReportingService wires a reporting service against storage.
func NewReportingService(storage *Storage) *ReportingService {
	return &ReportingService{storage: storage}
}

// TrialBalance builds a single company's trial balance as of a date from
// every posted entry up to and including it.
func (r *ReportingService) TrialBalance(companyID string, asOf time.Time) (*TrialBalanceReport, error) {
	company, err := r.storage.GetCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load company: %w", err)
	}
	accounts, err := r.storage.GetAccountsByCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	balances := make(map[string]Money, len(accounts))
	for _, a := range accounts {
		balances[a.ID] = ZeroMoney(company.FunctionalCurrency)
	}

	entries, err := r.storage.GetJournalEntriesByCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	for _, e := range entries {
		if e.Status != StatusPosted || e.TransactionDate.After(asOf) {
			continue
		}
		for _, line := range e.Lines {
			acct := accountByID(accounts, line.AccountID)
			if acct == nil {
				continue
			}
			mult := NormalBalanceMultiplier(acct.Type, line.Side)
			signed := line.Amount.MulScalar(decimalFromInt(mult))
			merged, err := balances[acct.ID].Add(signed)
			if err != nil {
				return nil, err
			}
			balances[acct.ID] = merged
		}
	}

	report := &TrialBalanceReport{CompanyID: companyID, AsOf: asOf}
	for _, a := range accounts {
		report.Lines = append(report.Lines, TrialBalanceLine{AccountID: a.ID, CompanyID: companyID, Balance: balances[a.ID]})
	}
	return report, nil
}

// ConsolidatedTrialBalanceReport adapts a completed consolidation run's
// trial balance into a TrialBalanceReport for reuse by the statement
// builders below.
func (r *ReportingService) ConsolidatedTrialBalanceReport(runID string) (*TrialBalanceReport, error) {
	run, err := r.storage.GetConsolidationRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consolidation run: %w", err)
	}
	if run.Status != RunCompleted || run.TrialBalance == nil {
		return nil, newDomainErr(ErrInvalidStateTransition, "consolidation run has not completed")
	}
	return &TrialBalanceReport{GroupID: run.GroupID, AsOf: run.TrialBalance.AsOf, Lines: run.TrialBalance.Lines}, nil
}

// BalanceSheetFromTB builds a balance sheet from any trial balance report,
// company-level or consolidated, by classifying each line's account type.
func (r *ReportingService) BalanceSheetFromTB(tb *TrialBalanceReport) (*BalanceSheet, error) {
	bs := &BalanceSheet{AsOf: tb.AsOf}
	var currency CurrencyCode
	for _, line := range tb.Lines {
		currency = line.Balance.Currency
		acct, err := r.storage.GetAccount(line.AccountID)
		if err != nil {
			continue
		}
		stLine := StatementLine{Label: acct.Name, Amount: line.Balance}
		switch acct.Type {
		case Asset:
			bs.Assets = append(bs.Assets, stLine)
		case Liability:
			bs.Liabilities = append(bs.Liabilities, stLine)
		case Equity:
			bs.Equity = append(bs.Equity, stLine)
		}
	}
	if currency == "" {
		currency = "USD"
	}
	bs.TotalAssets = sumLines(bs.Assets, currency)
	liabTotal := sumLines(bs.Liabilities, currency)
	equityTotal := sumLines(bs.Equity, currency)
	total, err := liabTotal.Add(equityTotal)
	if err != nil {
		return nil, err
	}
	bs.TotalLiabilitiesAndEquity = total
	return bs, nil
}

// IncomeStatementFromTB builds an income statement from a trial balance
// covering exactly the requested period.
func (r *ReportingService) IncomeStatementFromTB(tb *TrialBalanceReport, periodStart, periodEnd time.Time) (*IncomeStatement, error) {
	is := &IncomeStatement{PeriodStart: periodStart, PeriodEnd: periodEnd}
	var currency CurrencyCode
	for _, line := range tb.Lines {
		currency = line.Balance.Currency
		acct, err := r.storage.GetAccount(line.AccountID)
		if err != nil {
			continue
		}
		stLine := StatementLine{Label: acct.Name, Amount: line.Balance}
		switch acct.Type {
		case Income:
			is.Revenue = append(is.Revenue, stLine)
		case Expense:
			is.Expenses = append(is.Expenses, stLine)
		}
	}
	if currency == "" {
		currency = "USD"
	}
	revenueTotal := sumLines(is.Revenue, currency)
	expenseTotal := sumLines(is.Expenses, currency)
	net, err := revenueTotal.Sub(expenseTotal)
	if err != nil {
		return nil, err
	}
	is.NetIncome = net
	return is, nil
}

// EquityStatementForPeriod rolls forward each equity account's balance
// across a period using trial balances taken at its start and end.
func (r *ReportingService) EquityStatementForPeriod(companyID string, periodStart, periodEnd time.Time) (*EquityStatement, error) {
	opening, err := r.TrialBalance(companyID, periodStart)
	if err != nil {
		return nil, err
	}
	closing, err := r.TrialBalance(companyID, periodEnd)
	if err != nil {
		return nil, err
	}

	openingByAccount := map[string]Money{}
	for _, l := range opening.Lines {
		openingByAccount[l.AccountID] = l.Balance
	}

	stmt := &EquityStatement{PeriodStart: periodStart, PeriodEnd: periodEnd}
	for _, l := range closing.Lines {
		acct, err := r.storage.GetAccount(l.AccountID)
		if err != nil || acct.Type != Equity {
			continue
		}
		open, ok := openingByAccount[l.AccountID]
		if !ok {
			open = ZeroMoney(l.Balance.Currency)
		}
		movement, err := l.Balance.Sub(open)
		if err != nil {
			return nil, err
		}
		stmt.Lines = append(stmt.Lines, EquityRollForward{
			AccountID: l.AccountID,
			Opening:   open,
			Movement:  movement,
			Closing:   l.Balance,
		})
	}
	return stmt, nil
}

// CashFlowIndirectFromTB derives a cash flow statement from net income
// adjusted by the period's change in every non-cash balance sheet
// account, the standard indirect-method reconciliation.
func (r *ReportingService) CashFlowIndirectFromTB(companyID string, periodStart, periodEnd time.Time, netIncome Money) (*CashFlowStatement, error) {
	opening, err := r.TrialBalance(companyID, periodStart)
	if err != nil {
		return nil, err
	}
	closing, err := r.TrialBalance(companyID, periodEnd)
	if err != nil {
		return nil, err
	}
	openingByAccount := map[string]Money{}
	for _, l := range opening.Lines {
		openingByAccount[l.AccountID] = l.Balance
	}

	cf := &CashFlowStatement{Method: CashFlowIndirect, PeriodStart: periodStart, PeriodEnd: periodEnd}
	cf.Operating = append(cf.Operating, StatementLine{Label: "Net income", Amount: netIncome})

	for _, l := range closing.Lines {
		acct, err := r.storage.GetAccount(l.AccountID)
		if err != nil || !acct.IsCashFlowRelevant || acct.CashFlowCategory == CashFlowCash {
			continue
		}
		if acct.Type != Asset && acct.Type != Liability && acct.Type != Equity {
			continue
		}
		open, ok := openingByAccount[l.AccountID]
		if !ok {
			open = ZeroMoney(l.Balance.Currency)
		}
		change, err := l.Balance.Sub(open)
		if err != nil {
			return nil, err
		}
		line := StatementLine{Label: fmt.Sprintf("Change in %s", acct.Name), Amount: cashEffect(acct, change)}
		switch acct.CashFlowCategory {
		case CashFlowInvesting:
			cf.Investing = append(cf.Investing, line)
		case CashFlowFinancing:
			cf.Financing = append(cf.Financing, line)
		default:
			cf.Operating = append(cf.Operating, line)
		}
	}

	currency := netIncome.Currency
	operatingTotal := sumLines(cf.Operating, currency)
	investingTotal := sumLines(cf.Investing, currency)
	financingTotal := sumLines(cf.Financing, currency)
	total, err := operatingTotal.Add(investingTotal)
	if err != nil {
		return nil, err
	}
	total, err = total.Add(financingTotal)
	if err != nil {
		return nil, err
	}
	cf.NetChange = total
	return cf, nil
}

// CashFlowDirectFromTB derives a cash flow statement from the actual cash
// receipts and payments posted against a company's cash accounts, grouping
// each by the offsetting account's cash flow category rather than starting
// from net income.
func (r *ReportingService) CashFlowDirectFromTB(companyID string, periodStart, periodEnd time.Time) (*CashFlowStatement, error) {
	accounts, err := r.storage.GetAccountsByCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	cashIDs := map[string]bool{}
	for _, a := range accounts {
		if a.IsCashFlowRelevant && a.CashFlowCategory == CashFlowCash {
			cashIDs[a.ID] = true
		}
	}

	entries, err := r.storage.GetJournalEntriesByCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}

	var currency CurrencyCode
	type bucketKey struct {
		category CashFlowCategory
		label    string
	}
	totals := map[bucketKey]Money{}
	order := []bucketKey{}

	for _, e := range entries {
		if e.Status != StatusPosted || e.TransactionDate.Before(periodStart) || e.TransactionDate.After(periodEnd) {
			continue
		}
		for _, line := range e.Lines {
			if !cashIDs[line.AccountID] {
				continue
			}
			currency = line.Amount.Currency
			cashMult := NormalBalanceMultiplier(Asset, line.Side)
			cashChange := line.Amount.MulScalar(decimalFromInt(cashMult))
			for _, other := range e.Lines {
				if other.AccountID == line.AccountID || cashIDs[other.AccountID] {
					continue
				}
				acct := accountByID(accounts, other.AccountID)
				if acct == nil {
					continue
				}
				key := bucketKey{category: cashFlowCategoryOrOperating(acct), label: acct.Name}
				if _, ok := totals[key]; !ok {
					totals[key] = ZeroMoney(cashChange.Currency)
					order = append(order, key)
				}
				merged, err := totals[key].Add(cashChange)
				if err != nil {
					return nil, err
				}
				totals[key] = merged
			}
		}
	}
	if currency == "" {
		currency = "USD"
	}

	cf := &CashFlowStatement{Method: CashFlowDirect, PeriodStart: periodStart, PeriodEnd: periodEnd}
	for _, key := range order {
		line := StatementLine{Label: key.label, Amount: totals[key]}
		switch key.category {
		case CashFlowInvesting:
			cf.Investing = append(cf.Investing, line)
		case CashFlowFinancing:
			cf.Financing = append(cf.Financing, line)
		default:
			cf.Operating = append(cf.Operating, line)
		}
	}

	total := ZeroMoney(currency)
	for _, lines := range [][]StatementLine{cf.Operating, cf.Investing, cf.Financing} {
		for _, l := range lines {
			merged, err := total.Add(l.Amount)
			if err != nil {
				return nil, err
			}
			total = merged
		}
	}
	cf.NetChange = total
	return cf, nil
}

func cashFlowCategoryOrOperating(acct *Account) CashFlowCategory {
	switch acct.CashFlowCategory {
	case CashFlowInvesting, CashFlowFinancing:
		return acct.CashFlowCategory
	default:
		return CashFlowOperating
	}
}

// cashEffect translates a balance-sheet account's period change into its
// cash flow effect: an asset increase consumes cash, a liability or equity
// increase provides it.
func cashEffect(acct *Account, change Money) Money {
	if acct.Type == Asset {
		return change.Neg()
	}
	return change
}

func accountByID(accounts []*Account, id string) *Account {
	for _, a := range accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func sumLines(lines []StatementLine, currency CurrencyCode) Money {
	total := ZeroMoney(currency)
	for _, l := range lines {
		if merged, err := total.Add(l.Amount); err == nil {
			total = merged
		}
	}
	return total
}
