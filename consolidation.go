package accounting

// Consolidation: groups of companies rolled up under a parent, eliminated
// and translated into a single consolidated trial balance. A run walks
// seven ordered, idempotent steps; each step's output is recorded on the
// run so a failed or interrupted run resumes from the first step not yet
// completed rather than starting over.

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ConsolidationStep string

const (
	StepValidate    ConsolidationStep = "VALIDATE"
	StepTranslate   ConsolidationStep = "TRANSLATE"
	StepAggregate   ConsolidationStep = "AGGREGATE"
	StepMatchIC     ConsolidationStep = "MATCH_IC"
	StepEliminate   ConsolidationStep = "ELIMINATE"
	StepNCI         ConsolidationStep = "NCI"
	StepGenerateTB  ConsolidationStep = "GENERATE_TB"
)

var consolidationStepOrder = []ConsolidationStep{
	StepValidate, StepTranslate, StepAggregate, StepMatchIC, StepEliminate, StepNCI, StepGenerateTB,
}

type RunStatus string

const (
	RunDraft     RunStatus = "DRAFT"
	RunRunning   RunStatus = "RUNNING"
	RunFailed    RunStatus = "FAILED"
	RunCompleted RunStatus = "COMPLETED"
	RunCancelled RunStatus = "CANCELLED"
)

// ConsolidationGroup is a parent company and its member subsidiaries,
// each carrying the ownership percentage used for the NCI step.
type ConsolidationGroup struct {
	ID              string             `json:"id"`
	OrganizationID  string             `json:"organization_id" validate:"required"`
	Name            string             `json:"name" validate:"required"`
	ParentCompanyID string             `json:"parent_company_id" validate:"required"`
	ReportingCurrency CurrencyCode     `json:"reporting_currency" validate:"required"`
	Members         []GroupMember      `json:"members"`
	// NCIAccountID is the parent-books equity account the NCI step credits
	// with the non-controlling interest's share of subsidiary equity and
	// income. It is created lazily, the first time a run's NCI step needs
	// it, and then reused by every later run.
	NCIAccountID    string             `json:"nci_account_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// GroupMember records a subsidiary's ownership percentage within a group.
type GroupMember struct {
	CompanyID        string          `json:"company_id"`
	OwnershipPercent decimal.Decimal `json:"ownership_percent"` // 0..1
}

// EliminationRuleType names the ASC 810 elimination pattern a rule
// implements; the zero value behaves as a plain matched-pair elimination
// between SourceAccountID and TargetAccountID, for rules predating the
// typed selector model.
type EliminationRuleType string

const (
	EliminationICReceivablePayable         EliminationRuleType = "IC_RECEIVABLE_PAYABLE"
	EliminationICRevenueExpense            EliminationRuleType = "IC_REVENUE_EXPENSE"
	EliminationICDividend                  EliminationRuleType = "IC_DIVIDEND"
	EliminationICInvestment                EliminationRuleType = "IC_INVESTMENT"
	EliminationUnrealizedProfitInventory   EliminationRuleType = "UNREALIZED_PROFIT_INVENTORY"
	EliminationUnrealizedProfitFixedAssets EliminationRuleType = "UNREALIZED_PROFIT_FIXED_ASSETS"
)

// AccountSelectorType chooses how an AccountSelector picks accounts out of
// a company's chart.
type AccountSelectorType string

const (
	SelectorByID       AccountSelectorType = "BY_ID"
	SelectorByRange    AccountSelectorType = "BY_RANGE"
	SelectorByCategory AccountSelectorType = "BY_CATEGORY"
)

// AccountSelector names one or more accounts an elimination rule's source
// or target side applies to.
type AccountSelector struct {
	Type      AccountSelectorType `json:"type" validate:"required"`
	AccountID string              `json:"account_id,omitempty"`
	RangeFrom string              `json:"range_from,omitempty"`
	RangeTo   string              `json:"range_to,omitempty"`
	Category  AccountType         `json:"category,omitempty"`
}

// selectorMatches reports whether an account satisfies a selector.
func selectorMatches(sel AccountSelector, acct *Account) bool {
	switch sel.Type {
	case SelectorByID:
		return acct.ID == sel.AccountID
	case SelectorByRange:
		return acct.Number >= sel.RangeFrom && acct.Number <= sel.RangeTo
	case SelectorByCategory:
		return acct.Type == sel.Category
	default:
		return false
	}
}

// EliminationRule drives one elimination during the Eliminate step: either
// a matched intercompany pair (IC_RECEIVABLE_PAYABLE, IC_REVENUE_EXPENSE,
// and the legacy untyped pair) routed through the recorded intercompany
// transactions, or a direct selector-based elimination (IC_DIVIDEND,
// IC_INVESTMENT, and the unrealized-profit types) applied straight against
// the aggregated trial balance. Rules run in ascending Priority order so a
// receivable/payable elimination can run before an investment elimination
// that depends on its result.
type EliminationRule struct {
	ID              string              `json:"id"`
	GroupID         string              `json:"group_id" validate:"required"`
	Name            string              `json:"name" validate:"required"`
	Type            EliminationRuleType `json:"type,omitempty"`
	Priority        int                 `json:"priority"`
	IsActive        bool                `json:"is_active"`
	MinimumAmount   decimal.Decimal     `json:"minimum_amount,omitempty"`

	// SourceAccountID/TargetAccountID are the legacy matched-pair account
	// identifiers; still honored when the selector lists below are empty,
	// so rules created before the selector model keep working unchanged.
	SourceAccountID string `json:"source_account_id,omitempty"`
	TargetAccountID string `json:"target_account_id,omitempty"`

	SourceAccountSelectors []AccountSelector `json:"source_account_selectors,omitempty"`
	TargetAccountSelectors []AccountSelector `json:"target_account_selectors,omitempty"`
}

// EliminationEntry is the synthetic journal-style record of one rule's
// effect on a run's aggregated trial balance, kept so a consolidated
// trial balance's eliminations are independently auditable rather than
// only visible as a silent adjustment to the aggregated figures.
type EliminationEntry struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	RuleID    string                 `json:"rule_id"`
	Lines     []EliminationEntryLine `json:"lines"`
	CreatedAt time.Time              `json:"created_at"`
}

// EliminationEntryLine is one side of an elimination entry's effect on an
// aggregated account balance.
type EliminationEntryLine struct {
	AccountID string    `json:"account_id"`
	Side      EntrySide `json:"side"`
	Amount    Money     `json:"amount"`
}

// TrialBalanceLine is one account's rolled-up balance within a run.
type TrialBalanceLine struct {
	AccountID string `json:"account_id"`
	CompanyID string `json:"company_id,omitempty"`
	Balance   Money  `json:"balance"`
}

// ConsolidatedTrialBalance is the output of a completed consolidation run.
type ConsolidatedTrialBalance struct {
	GroupID string             `json:"group_id"`
	AsOf    time.Time          `json:"as_of"`
	Lines   []TrialBalanceLine `json:"lines"`
}

// ConsolidationRun is a durable record of one consolidation attempt: which
// steps have completed, and its resulting trial balance once finished.
type ConsolidationRun struct {
	ID              string              `json:"id"`
	GroupID         string              `json:"group_id"`
	AsOf            time.Time           `json:"as_of"`
	Status          RunStatus           `json:"status"`
	CompletedSteps  []ConsolidationStep `json:"completed_steps"`
	FailureReason   string              `json:"failure_reason,omitempty"`
	TrialBalance    *ConsolidatedTrialBalance `json:"trial_balance,omitempty"`
	EliminationEntryIDs []string        `json:"elimination_entry_ids,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`

	// Intermediate state carried between steps, persisted with the run so
	// Resume can pick up after a process restart, not just within one call.
	Translated map[string][]TrialBalanceLine `json:"translated,omitempty"`
	Aggregated []TrialBalanceLine            `json:"aggregated,omitempty"`
}

// ConsolidationEngine drives a group's consolidation runs through the
// seven-step pipeline.
type ConsolidationEngine struct {
	storage  *Storage
	fx       *FxRateStore
	matcher  *IntercompanyMatcher
	calendar *FiscalCalendar
	audit    *AuditSink
}

// NewConsolidationEngine wires a consolidation engine from its collaborators.
func NewConsolidationEngine(storage *Storage, fx *FxRateStore, matcher *IntercompanyMatcher, calendar *FiscalCalendar, audit *AuditSink) *ConsolidationEngine {
	return &ConsolidationEngine{storage: storage, fx: fx, matcher: matcher, calendar: calendar, audit: audit}
}

// CreateGroup registers a new consolidation group.
func (c *ConsolidationEngine) CreateGroup(group *ConsolidationGroup) (*ConsolidationGroup, error) {
	group.ID = uuid.New().String()
	group.CreatedAt = time.Now()
	if err := c.storage.SaveConsolidationGroup(group); err != nil {
		return nil, fmt.Errorf("failed to save consolidation group: %w", err)
	}
	return group, nil
}

// CreateEliminationRule adds an elimination rule to a group. IsActive
// defaults to true, and an untyped rule keeps behaving as a plain
// matched-pair elimination between SourceAccountID and TargetAccountID.
func (c *ConsolidationEngine) CreateEliminationRule(rule *EliminationRule) (*EliminationRule, error) {
	rule.ID = uuid.New().String()
	rule.IsActive = true
	if err := c.storage.SaveEliminationRule(rule); err != nil {
		return nil, fmt.Errorf("failed to save elimination rule: %w", err)
	}
	return rule, nil
}

// StartRun creates a new Draft run for a group as of a given date.
func (c *ConsolidationEngine) StartRun(groupID string, asOf time.Time) (*ConsolidationRun, error) {
	run := &ConsolidationRun{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		AsOf:      asOf,
		Status:    RunDraft,
		CreatedAt: time.Now(),
	}
	if err := c.storage.SaveConsolidationRun(run); err != nil {
		return nil, fmt.Errorf("failed to save consolidation run: %w", err)
	}
	return run, nil
}

// Resume executes every pipeline step not yet in run.CompletedSteps, in
// order, making the run safe to re-invoke after a failure: each step
// checks its own preconditions and is idempotent against a partially
// completed run.
func (c *ConsolidationEngine) Resume(runID string) (*ConsolidationRun, error) {
	run, err := c.storage.GetConsolidationRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consolidation run: %w", err)
	}
	if run.Status == RunCancelled {
		return nil, newDomainErr(ErrInvalidStateTransition, "cannot resume a cancelled run")
	}
	if run.Status == RunCompleted {
		return run, nil
	}

	run.Status = RunRunning
	group, err := c.storage.GetConsolidationGroup(run.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consolidation group: %w", err)
	}

	completed := map[ConsolidationStep]bool{}
	for _, s := range run.CompletedSteps {
		completed[s] = true
	}

	for _, step := range consolidationStepOrder {
		if completed[step] {
			continue
		}
		if err := c.runStep(run, group, step); err != nil {
			run.Status = RunFailed
			run.FailureReason = err.Error()
			_ = c.storage.SaveConsolidationRun(run)
			return run, err
		}
		run.CompletedSteps = append(run.CompletedSteps, step)
		if err := c.storage.SaveConsolidationRun(run); err != nil {
			return nil, fmt.Errorf("failed to checkpoint consolidation run: %w", err)
		}
	}

	now := time.Now()
	run.Status = RunCompleted
	run.CompletedAt = &now
	if err := c.storage.SaveConsolidationRun(run); err != nil {
		return nil, fmt.Errorf("failed to save completed run: %w", err)
	}
	c.audit.Record(AuditEvent{Action: "consolidation_run.completed", EntityID: run.ID})
	return run, nil
}

// Cancel stops a run that has not yet completed.
func (c *ConsolidationEngine) Cancel(runID string) error {
	run, err := c.storage.GetConsolidationRun(runID)
	if err != nil {
		return fmt.Errorf("failed to load consolidation run: %w", err)
	}
	if run.Status == RunCompleted {
		return newDomainErr(ErrInvalidStateTransition, "cannot cancel a completed run")
	}
	run.Status = RunCancelled
	return c.storage.SaveConsolidationRun(run)
}

func (c *ConsolidationEngine) runStep(run *ConsolidationRun, group *ConsolidationGroup, step ConsolidationStep) error {
	switch step {
	case StepValidate:
		return c.stepValidate(run, group)
	case StepTranslate:
		return c.stepTranslate(run, group)
	case StepAggregate:
		return c.stepAggregate(run, group)
	case StepMatchIC:
		return c.stepMatchIC(run, group)
	case StepEliminate:
		return c.stepEliminate(run, group)
	case StepNCI:
		return c.stepNCI(run, group)
	case StepGenerateTB:
		return c.stepGenerateTB(run, group)
	default:
		return newDomainErr(ErrConsolidationStepOrder, fmt.Sprintf("unknown step %s", step))
	}
}

// stepValidate confirms every member company's books for the period are
// fully posted before any numbers are rolled up.
func (c *ConsolidationEngine) stepValidate(run *ConsolidationRun, group *ConsolidationGroup) error {
	members := append([]string{group.ParentCompanyID}, memberCompanyIDs(group)...)
	for _, companyID := range members {
		entries, err := c.storage.GetJournalEntriesByCompany(companyID)
		if err != nil {
			return fmt.Errorf("failed to list journal entries for %s: %w", companyID, err)
		}
		for _, e := range entries {
			if e.TransactionDate.After(run.AsOf) {
				continue
			}
			if e.Status == StatusDraft || e.Status == StatusPendingApproval || e.Status == StatusApproved {
				return newDomainErr(ErrConsolidationRunFailed, fmt.Sprintf("company %s has unposted entries as of %s", companyID, run.AsOf.Format("2006-01-02")))
			}
		}

		fy, err := c.storage.GetCurrentFiscalYear(companyID, run.AsOf)
		if err != nil {
			return fmt.Errorf("failed to resolve fiscal year for %s: %w", companyID, err)
		}
		period, err := c.calendar.ResolvePeriodForDate(fy.ID, run.AsOf)
		if err != nil {
			return err
		}
		if !period.Closed {
			return newDomainErr(ErrConsolidationRunFailed, fmt.Sprintf("company %s period %d is not yet closed as of %s", companyID, period.Number, run.AsOf.Format("2006-01-02")))
		}
	}
	return nil
}

// stepTranslate converts each member's functional-currency account
// balances into the group's reporting currency per ASC 830: period-
// average rate for Income/Expense, period-closing rate for Asset/
// Liability, historical rate for Equity.
func (c *ConsolidationEngine) stepTranslate(run *ConsolidationRun, group *ConsolidationGroup) error {
	run.Translated = map[string][]TrialBalanceLine{}
	members := append([]string{group.ParentCompanyID}, memberCompanyIDs(group)...)

	for _, companyID := range members {
		company, err := c.storage.GetCompany(companyID)
		if err != nil {
			return fmt.Errorf("failed to load company %s: %w", companyID, err)
		}
		balances, err := c.companyBalancesAsOf(companyID, run.AsOf)
		if err != nil {
			return err
		}

		var lines []TrialBalanceLine
		for accountID, balance := range balances {
			if company.FunctionalCurrency == group.ReportingCurrency {
				lines = append(lines, TrialBalanceLine{AccountID: accountID, CompanyID: companyID, Balance: balance})
				continue
			}

			acct, err := c.storage.GetAccount(accountID)
			if err != nil {
				return fmt.Errorf("failed to load account %s: %w", accountID, err)
			}

			var rate *ExchangeRate
			switch acct.Type {
			case Income, Expense:
				rate, err = c.fx.GetPeriodAverage(company.FunctionalCurrency, group.ReportingCurrency, run.AsOf.AddDate(0, -1, 0), run.AsOf)
			case Equity:
				rate, err = c.fx.GetForDate(company.FunctionalCurrency, group.ReportingCurrency, RateHistorical, run.AsOf)
			default: // Asset, Liability
				rate, err = c.fx.GetPeriodClosing(company.FunctionalCurrency, group.ReportingCurrency, run.AsOf.AddDate(0, -1, 0), run.AsOf)
			}
			if err != nil {
				return fmt.Errorf("failed to resolve translation rate for %s: %w", accountID, err)
			}

			translated, err := balance.Convert(*rate)
			if err != nil {
				return fmt.Errorf("failed to translate balance for %s: %w", accountID, err)
			}
			lines = append(lines, TrialBalanceLine{AccountID: accountID, CompanyID: companyID, Balance: translated})
		}
		run.Translated[companyID] = lines
	}
	return nil
}

// companyBalancesAsOf computes each postable account's normal-balance
// signed balance from posted entries up to and including asOf.
func (c *ConsolidationEngine) companyBalancesAsOf(companyID string, asOf time.Time) (map[string]Money, error) {
	accounts, err := c.storage.GetAccountsByCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	byID := make(map[string]*Account, len(accounts))
	balances := make(map[string]Money, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
		balances[a.ID] = ZeroMoney(a.Currency)
	}

	entries, err := c.storage.GetJournalEntriesByCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	for _, e := range entries {
		if e.Status != StatusPosted || e.TransactionDate.After(asOf) {
			continue
		}
		for _, line := range e.Lines {
			acct, ok := byID[line.AccountID]
			if !ok {
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
	return balances, nil
}

// stepAggregate sums translated balances across all member companies,
// per account.
func (c *ConsolidationEngine) stepAggregate(run *ConsolidationRun, group *ConsolidationGroup) error {
	totals := map[string]Money{}
	order := make([]string, 0)
	for _, lines := range run.Translated {
		for _, line := range lines {
			existing, ok := totals[line.AccountID]
			if !ok {
				existing = ZeroMoney(group.ReportingCurrency)
				order = append(order, line.AccountID)
			}
			merged, err := existing.Add(line.Balance)
			if err != nil {
				return fmt.Errorf("failed to aggregate account %s: %w", line.AccountID, err)
			}
			totals[line.AccountID] = merged
		}
	}
	run.Aggregated = nil
	for _, accountID := range order {
		run.Aggregated = append(run.Aggregated, TrialBalanceLine{AccountID: accountID, Balance: totals[accountID]})
	}
	return nil
}

// stepMatchIC runs intercompany matching for the group and fails the run
// if any variance remains unapproved, since an unresolved variance means
// the elimination step cannot determine the correct amount to eliminate.
func (c *ConsolidationEngine) stepMatchIC(run *ConsolidationRun, group *ConsolidationGroup) error {
	if _, err := c.matcher.MatchPending(group.ID); err != nil {
		return fmt.Errorf("failed to match intercompany transactions: %w", err)
	}
	unresolved, err := c.matcher.UnresolvedVariances(group.ID)
	if err != nil {
		return err
	}
	if len(unresolved) > 0 {
		return newDomainErr(ErrIntercompanyImbalance, fmt.Sprintf("%d unresolved intercompany variances", len(unresolved)))
	}
	return nil
}

// stepEliminate applies every active elimination rule against the
// aggregated trial balance, in ascending priority order so a
// receivable/payable elimination runs before an investment elimination
// that depends on its result, and records one EliminationEntry per rule
// that actually eliminated something.
func (c *ConsolidationEngine) stepEliminate(run *ConsolidationRun, group *ConsolidationGroup) error {
	rules, err := c.storage.GetEliminationRulesByGroup(group.ID)
	if err != nil {
		return fmt.Errorf("failed to load elimination rules: %w", err)
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	icTxns, err := c.storage.GetIntercompanyTransactionsByGroup(group.ID)
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if rule.ID != "" && !rule.IsActive {
			continue
		}

		var entry *EliminationEntry
		var stepErr error
		switch rule.Type {
		case EliminationICDividend, EliminationICInvestment, EliminationUnrealizedProfitInventory, EliminationUnrealizedProfitFixedAssets:
			entry, stepErr = c.eliminateDirectPair(run, rule)
		default: // "", EliminationICReceivablePayable, EliminationICRevenueExpense
			entry, stepErr = c.eliminateMatchedPair(run, rule, icTxns)
		}
		if stepErr != nil {
			return stepErr
		}
		if entry == nil {
			continue
		}
		entry.ID = uuid.New().String()
		entry.RunID = run.ID
		entry.RuleID = rule.ID
		entry.CreatedAt = time.Now()
		if err := c.storage.SaveEliminationEntry(entry); err != nil {
			return fmt.Errorf("failed to save elimination entry: %w", err)
		}
		run.EliminationEntryIDs = append(run.EliminationEntryIDs, entry.ID)
	}
	return nil
}

// eliminateMatchedPair routes each leg of a matched intercompany
// transaction pair to its own account by company, so the pair nets to
// zero on both accounts regardless of storage iteration order, instead
// of applying one leg's amount to both sides.
func (c *ConsolidationEngine) eliminateMatchedPair(run *ConsolidationRun, rule *EliminationRule, icTxns []*IntercompanyTransaction) (*EliminationEntry, error) {
	if rule.SourceAccountID == "" || rule.TargetAccountID == "" {
		return nil, nil
	}
	byAccount := map[string]int{}
	for i, l := range run.Aggregated {
		byAccount[l.AccountID] = i
	}

	sourceAcct, err := c.storage.GetAccount(rule.SourceAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source account %s: %w", rule.SourceAccountID, err)
	}
	targetAcct, err := c.storage.GetAccount(rule.TargetAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target account %s: %w", rule.TargetAccountID, err)
	}

	var lines []EliminationEntryLine
	for _, txn := range icTxns {
		if txn.Status != ICMatched && txn.Status != ICVarianceApproved {
			continue
		}
		switch txn.CompanyID {
		case sourceAcct.CompanyID:
			idx, ok := byAccount[rule.SourceAccountID]
			if !ok {
				continue
			}
			reduced, err := run.Aggregated[idx].Balance.Sub(txn.Amount)
			if err != nil {
				return nil, err
			}
			run.Aggregated[idx].Balance = reduced
			lines = append(lines, EliminationEntryLine{AccountID: rule.SourceAccountID, Side: reducingSide(sourceAcct.Type), Amount: txn.Amount})
		case targetAcct.CompanyID:
			idx, ok := byAccount[rule.TargetAccountID]
			if !ok {
				continue
			}
			reduced, err := run.Aggregated[idx].Balance.Add(txn.Amount)
			if err != nil {
				return nil, err
			}
			run.Aggregated[idx].Balance = reduced
			lines = append(lines, EliminationEntryLine{AccountID: rule.TargetAccountID, Side: reducingSide(targetAcct.Type), Amount: txn.Amount})
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return &EliminationEntry{Lines: lines}, nil
}

// eliminateDirectPair eliminates a rule whose source and target are
// resolved straight out of the aggregated trial balance rather than
// through matched intercompany transactions: intercompany investment
// against the subsidiary equity it represents, a dividend against the
// income it was paid from, or unrealized profit sitting in inventory or
// fixed assets still on the group's books. The amount eliminated is
// capped at the smaller of the two sides' magnitudes, so the elimination
// never manufactures a balance that did not exist on either side.
func (c *ConsolidationEngine) eliminateDirectPair(run *ConsolidationRun, rule *EliminationRule) (*EliminationEntry, error) {
	sourceID := rule.SourceAccountID
	if len(rule.SourceAccountSelectors) > 0 {
		id, err := c.resolveSelectorAccountID(run, rule.SourceAccountSelectors)
		if err != nil {
			return nil, err
		}
		sourceID = id
	}
	targetID := rule.TargetAccountID
	if len(rule.TargetAccountSelectors) > 0 {
		id, err := c.resolveSelectorAccountID(run, rule.TargetAccountSelectors)
		if err != nil {
			return nil, err
		}
		targetID = id
	}
	if sourceID == "" || targetID == "" {
		return nil, nil
	}

	byAccount := map[string]int{}
	for i, l := range run.Aggregated {
		byAccount[l.AccountID] = i
	}
	sIdx, sOk := byAccount[sourceID]
	tIdx, tOk := byAccount[targetID]
	if !sOk || !tOk {
		return nil, nil
	}

	sourceAcct, err := c.storage.GetAccount(sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source account %s: %w", sourceID, err)
	}
	targetAcct, err := c.storage.GetAccount(targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target account %s: %w", targetID, err)
	}

	sourceMag := run.Aggregated[sIdx].Balance.Amount.Abs()
	targetMag := run.Aggregated[tIdx].Balance.Amount.Abs()
	amt := sourceMag
	if targetMag.LessThan(amt) {
		amt = targetMag
	}
	if amt.IsZero() {
		return nil, nil
	}
	if rule.MinimumAmount.Sign() > 0 && amt.LessThan(rule.MinimumAmount) {
		return nil, nil
	}

	money := Money{Amount: amt, Currency: run.Aggregated[sIdx].Balance.Currency}
	reducedSource, err := reduceTowardZero(run.Aggregated[sIdx].Balance, money)
	if err != nil {
		return nil, err
	}
	run.Aggregated[sIdx].Balance = reducedSource
	reducedTarget, err := reduceTowardZero(run.Aggregated[tIdx].Balance, money)
	if err != nil {
		return nil, err
	}
	run.Aggregated[tIdx].Balance = reducedTarget

	return &EliminationEntry{Lines: []EliminationEntryLine{
		{AccountID: sourceID, Side: reducingSide(sourceAcct.Type), Amount: money},
		{AccountID: targetID, Side: reducingSide(targetAcct.Type), Amount: money},
	}}, nil
}

// resolveSelectorAccountID finds the first account currently present in
// the run's aggregated trial balance that any of the given selectors
// matches.
func (c *ConsolidationEngine) resolveSelectorAccountID(run *ConsolidationRun, selectors []AccountSelector) (string, error) {
	for _, line := range run.Aggregated {
		acct, err := c.storage.GetAccount(line.AccountID)
		if err != nil {
			continue
		}
		for _, sel := range selectors {
			if selectorMatches(sel, acct) {
				return line.AccountID, nil
			}
		}
	}
	return "", newDomainErr(ErrNotFound, "no aggregated account matches an elimination rule's account selector")
}

// reducingSide names the entry side that moves a debit-normal account's
// balance toward zero; a credit-normal account moves toward zero the
// other way.
func reducingSide(acctType AccountType) EntrySide {
	if acctType == Asset || acctType == Expense {
		return Credit
	}
	return Debit
}

// reduceTowardZero moves balance toward zero by magnitude.Amount,
// regardless of which side balance currently sits on.
func reduceTowardZero(balance, magnitude Money) (Money, error) {
	if balance.Amount.Sign() < 0 {
		return balance.Add(magnitude)
	}
	return balance.Sub(magnitude)
}

// stepNCI strips the non-controlling interest share of each subsidiary's
// equity and income out of the lines attributable to the group, proportional
// to (1 - ownership percent), and credits the total to a Non-Controlling
// Interest equity account on the parent's books so the consolidated balance
// sheet still balances: the share removed from subsidiary equity/income does
// not simply vanish.
func (c *ConsolidationEngine) stepNCI(run *ConsolidationRun, group *ConsolidationGroup) error {
	byAccount := map[string]int{}
	for i, l := range run.Aggregated {
		byAccount[l.AccountID] = i
	}

	total := decimal.Zero
	for _, member := range group.Members {
		nciPercent := decimal.NewFromInt(1).Sub(member.OwnershipPercent)
		if nciPercent.IsZero() {
			continue
		}
		lines, ok := run.Translated[member.CompanyID]
		if !ok {
			continue
		}
		for _, line := range lines {
			acct, err := c.storage.GetAccount(line.AccountID)
			if err != nil {
				continue
			}
			if acct.Type != Equity && acct.Type != Income {
				continue
			}
			nciShare := line.Balance.MulScalar(nciPercent)
			if idx, ok := byAccount[line.AccountID]; ok {
				reduced, err := run.Aggregated[idx].Balance.Sub(nciShare)
				if err != nil {
					return err
				}
				run.Aggregated[idx].Balance = reduced
			}
			total = total.Add(nciShare.Amount)
		}
	}
	if total.IsZero() {
		return nil
	}

	nciAccountID, err := c.ensureNCIAccount(group)
	if err != nil {
		return err
	}
	nciAmount := Money{Amount: total, Currency: group.ReportingCurrency}
	if idx, ok := byAccount[nciAccountID]; ok {
		merged, err := run.Aggregated[idx].Balance.Add(nciAmount)
		if err != nil {
			return err
		}
		run.Aggregated[idx].Balance = merged
	} else {
		run.Aggregated = append(run.Aggregated, TrialBalanceLine{AccountID: nciAccountID, Balance: nciAmount})
	}
	return nil
}

// ensureNCIAccount returns the group's non-controlling-interest equity
// account, creating it lazily on the parent's books the first time a run
// needs one and persisting the choice onto the group so every later run
// credits the same account instead of creating a fresh one each time.
func (c *ConsolidationEngine) ensureNCIAccount(group *ConsolidationGroup) (string, error) {
	if group.NCIAccountID != "" {
		return group.NCIAccountID, nil
	}
	acct := &Account{
		ID:        uuid.New().String(),
		CompanyID: group.ParentCompanyID,
		Number:    "NCI-" + group.ID[:8],
		Name:      "Non-Controlling Interest",
		Type:      Equity,
		Currency:  group.ReportingCurrency,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := c.storage.SaveAccount(acct); err != nil {
		return "", fmt.Errorf("failed to create non-controlling interest account: %w", err)
	}
	group.NCIAccountID = acct.ID
	if err := c.storage.SaveConsolidationGroup(group); err != nil {
		return "", fmt.Errorf("failed to persist non-controlling interest account onto group: %w", err)
	}
	return acct.ID, nil
}

// stepGenerateTB writes the final aggregated, eliminated, NCI-adjusted
// lines onto the run as its ConsolidatedTrialBalance, after confirming the
// debit-normal and credit-normal totals still agree: any of the earlier
// steps introducing a one-sided adjustment would otherwise surface only as
// a silently wrong trial balance.
func (c *ConsolidationEngine) stepGenerateTB(run *ConsolidationRun, group *ConsolidationGroup) error {
	debitTotal := decimal.Zero
	creditTotal := decimal.Zero
	for _, line := range run.Aggregated {
		acct, err := c.storage.GetAccount(line.AccountID)
		if err != nil {
			return fmt.Errorf("failed to load account %s: %w", line.AccountID, err)
		}
		switch acct.Type {
		case Asset, Expense:
			debitTotal = debitTotal.Add(line.Balance.Amount)
		case Liability, Equity, Income:
			creditTotal = creditTotal.Add(line.Balance.Amount)
		}
	}
	if !debitTotal.Equal(creditTotal) {
		return newDomainErr(ErrConsolidatedBalanceNotBalanced, fmt.Sprintf("consolidated trial balance does not balance: debits %s, credits %s", debitTotal.StringFixed(2), creditTotal.StringFixed(2)))
	}

	run.TrialBalance = &ConsolidatedTrialBalance{
		GroupID: group.ID,
		AsOf:    run.AsOf,
		Lines:   run.Aggregated,
	}
	return nil
}

func memberCompanyIDs(group *ConsolidationGroup) []string {
	ids := make([]string, 0, len(group.Members))
	for _, m := range group.Members {
		ids = append(ids, m.CompanyID)
	}
	return ids
}
