package accounting

// Year-end close: roll net income into retained earnings, post a closing
// entry dated the fiscal year's end date, and lock the fiscal year. The
// closing entry lands in the last regular period; a 13th closing period,
// when the year has one, is not posted into. Reopen walks the close back
// by reversing each recorded closing entry; it does not rerun the
// preview/blocker checks a close performs.

import (
	"fmt"
	"time"
)

// ClosePreview summarizes what CloseFiscalYear would do, and any blockers
// that would stop it.
type ClosePreview struct {
	FiscalYearID   string   `json:"fiscal_year_id"`
	NetIncome      Money    `json:"net_income"`
	Blockers       []string `json:"blockers,omitempty"`
	UnpostedCount  int      `json:"unposted_count"`
}

// YearEndCloseService performs the close/reopen workflow for a company's
// fiscal year.
type YearEndCloseService struct {
	storage  *Storage
	calendar *FiscalCalendar
	journal  *JournalEngine
	audit    *AuditSink
	events   *EventStore
}

// NewYearEndCloseService wires the close service.
func NewYearEndCloseService(storage *Storage, calendar *FiscalCalendar, journal *JournalEngine, audit *AuditSink, events *EventStore) *YearEndCloseService {
	return &YearEndCloseService{storage: storage, calendar: calendar, journal: journal, audit: audit, events: events}
}

// PreviewClose computes the net income roll and lists any reason the close
// would fail, without mutating anything.
func (y *YearEndCloseService) PreviewClose(fiscalYearID string) (*ClosePreview, error) {
	fy, err := y.storage.GetFiscalYear(fiscalYearID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fiscal year: %w", err)
	}
	if fy.Closed {
		return nil, newDomainErr(ErrFiscalYearAlreadyClosed, fmt.Sprintf("fiscal year %s already closed", fy.Label))
	}

	preview := &ClosePreview{FiscalYearID: fiscalYearID}

	entries, err := y.storage.GetJournalEntriesByCompany(fy.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	for _, e := range entries {
		// Entries not yet posted carry no FiscalPeriodID (Post assigns it),
		// so they are placed in the year by transaction date instead.
		if e.FiscalPeriodID == "" {
			if e.TransactionDate.Before(fy.Start) || e.TransactionDate.After(fy.End) {
				continue
			}
		} else {
			period, err := y.storage.GetFiscalPeriod(e.FiscalPeriodID)
			if err != nil || period.FiscalYearID != fiscalYearID {
				continue
			}
		}
		if e.Status == StatusDraft || e.Status == StatusPendingApproval || e.Status == StatusApproved {
			preview.UnpostedCount++
		}
	}
	if preview.UnpostedCount > 0 {
		preview.Blockers = append(preview.Blockers, fmt.Sprintf("%d entries in this fiscal year are not yet posted", preview.UnpostedCount))
	}

	netIncome, err := y.netIncomeForYear(fy)
	if err != nil {
		return nil, err
	}
	preview.NetIncome = netIncome

	retainedEarnings, err := y.retainedEarningsAccount(fy.CompanyID)
	if err != nil {
		preview.Blockers = append(preview.Blockers, err.Error())
	} else if !retainedEarnings.Active {
		preview.Blockers = append(preview.Blockers, fmt.Sprintf("retained earnings account %s is inactive", retainedEarnings.Number))
	}

	return preview, nil
}

// netIncomeForYear sums Income minus Expense account balances across every
// posted entry in the fiscal year's periods.
func (y *YearEndCloseService) netIncomeForYear(fy *FiscalYear) (Money, error) {
	company, err := y.storage.GetCompany(fy.CompanyID)
	if err != nil {
		return Money{}, fmt.Errorf("failed to load company: %w", err)
	}
	net := ZeroMoney(company.FunctionalCurrency)

	periods, err := y.storage.GetFiscalPeriodsByYear(fy.ID)
	if err != nil {
		return Money{}, fmt.Errorf("failed to list fiscal periods: %w", err)
	}
	periodIDs := map[string]bool{}
	for _, p := range periods {
		periodIDs[p.ID] = true
	}

	entries, err := y.storage.GetJournalEntriesByCompany(fy.CompanyID)
	if err != nil {
		return Money{}, fmt.Errorf("failed to list journal entries: %w", err)
	}

	for _, e := range entries {
		if e.Status != StatusPosted || !periodIDs[e.FiscalPeriodID] {
			continue
		}
		for _, line := range e.Lines {
			acct, err := y.storage.GetAccount(line.AccountID)
			if err != nil {
				continue
			}
			if acct.Type != Income && acct.Type != Expense {
				continue
			}
			mult := NormalBalanceMultiplier(acct.Type, line.Side)
			signed := line.Amount.MulScalar(decimalFromInt(mult))
			merged, err := net.Add(signed)
			if err != nil {
				return Money{}, err
			}
			net = merged
		}
	}
	return net, nil
}

func (y *YearEndCloseService) retainedEarningsAccount(companyID string) (*Account, error) {
	accounts, err := y.storage.GetAccountsByCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, a := range accounts {
		if a.RetainedEarnings {
			return a, nil
		}
	}
	return nil, newDomainErr(ErrNotFound, "no retained earnings account configured")
}

func (y *YearEndCloseService) revenueOrExpenseAccounts(companyID string) ([]*Account, error) {
	accounts, err := y.storage.GetAccountsByCompany(companyID)
	if err != nil {
		return nil, err
	}
	var out []*Account
	for _, a := range accounts {
		if a.Type == Income || a.Type == Expense {
			out = append(out, a)
		}
	}
	return out, nil
}

// CloseResult reports what a completed CloseFiscalYear did: the closing
// entries it posted, the net income rolled into retained earnings, and
// every period it locked in cascade.
type CloseResult struct {
	ClosingEntryIDs []string `json:"closing_entry_ids"`
	NetIncome       Money    `json:"net_income"`
	PeriodsClosed   []string `json:"periods_closed"`
}

// CloseFiscalYear posts the closing entry zeroing every income/expense
// account into retained earnings, locks every period in the year, and
// marks the fiscal year closed.
func (y *YearEndCloseService) CloseFiscalYear(fiscalYearID, closedBy string) (*CloseResult, error) {
	preview, err := y.PreviewClose(fiscalYearID)
	if err != nil {
		return nil, err
	}
	if len(preview.Blockers) > 0 {
		return nil, newDomainErr(ErrFiscalYearNotClosable, fmt.Sprintf("%d blockers: %v", len(preview.Blockers), preview.Blockers))
	}

	fy, err := y.storage.GetFiscalYear(fiscalYearID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fiscal year: %w", err)
	}

	retainedEarnings, err := y.retainedEarningsAccount(fy.CompanyID)
	if err != nil {
		return nil, err
	}

	lines, err := y.buildClosingLines(fy, retainedEarnings)
	if err != nil {
		return nil, err
	}
	result := &CloseResult{NetIncome: preview.NetIncome}
	if len(lines) == 0 {
		// nothing to close, but the year still locks.
	} else {
		draft, err := y.journal.CreateDraft(CreateDraftInput{
			CompanyID:       fy.CompanyID,
			TransactionDate: fy.End,
			Description:     fmt.Sprintf("Year-end close: %s", fy.Label),
			Lines:           lines,
			PreparedBy:      closedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to draft closing entry: %w", err)
		}
		if err := y.journal.SubmitForApproval(draft.ID); err != nil {
			return nil, err
		}
		if err := y.journal.Approve(draft.ID, "SYSTEM_CLOSE"); err != nil {
			return nil, err
		}
		if err := y.journal.Post(draft.ID); err != nil {
			return nil, err
		}
		result.ClosingEntryIDs = append(result.ClosingEntryIDs, draft.ID)
	}

	periods, err := y.storage.GetFiscalPeriodsByYear(fy.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fiscal periods: %w", err)
	}
	for _, p := range periods {
		if p.Closed {
			continue
		}
		if err := y.calendar.ClosePeriod(p.ID); err != nil {
			return nil, fmt.Errorf("failed to close fiscal period %d: %w", p.Number, err)
		}
		result.PeriodsClosed = append(result.PeriodsClosed, p.ID)
	}

	now := time.Now()
	fy.Closed = true
	fy.ClosedAt = &now
	fy.ClosingEntryIDs = result.ClosingEntryIDs
	if err := y.storage.SaveFiscalYear(fy); err != nil {
		return nil, fmt.Errorf("failed to save fiscal year: %w", err)
	}
	if _, err := y.events.CreateEvent(EventFiscalYearClosed, FiscalYearClosedPayload{
		FiscalYearID: fy.ID,
		ClosedBy:     closedBy,
	}, closedBy); err != nil {
		return nil, fmt.Errorf("failed to record close event: %w", err)
	}
	y.audit.Record(AuditEvent{Action: "fiscal_year.closed", EntityID: fy.ID, UserID: closedBy})
	return result, nil
}

// buildClosingLines zeroes each income/expense account's balance for the
// year with an offsetting line, then posts the net to retained earnings.
func (y *YearEndCloseService) buildClosingLines(fy *FiscalYear, retainedEarnings *Account) ([]JournalEntryLine, error) {
	accounts, err := y.revenueOrExpenseAccounts(fy.CompanyID)
	if err != nil {
		return nil, err
	}

	var lines []JournalEntryLine
	company, err := y.storage.GetCompany(fy.CompanyID)
	if err != nil {
		return nil, err
	}
	reNet := ZeroMoney(company.FunctionalCurrency)

	for _, acct := range accounts {
		balance, err := y.accountBalanceForYear(acct, fy)
		if err != nil {
			return nil, err
		}
		if balance.IsZero() {
			continue
		}

		// balance is expressed as a signed normal-balance amount: a positive
		// value means the account carries a normal-side excess, which
		// closing zeroes out by posting to the opposite side.
		normalSide := Debit
		if acct.Type == Income {
			normalSide = Credit
		}
		oppositeOfNormal := Credit
		if normalSide == Credit {
			oppositeOfNormal = Debit
		}

		side := oppositeOfNormal
		amt := balance
		if balance.Amount.Sign() < 0 {
			side = normalSide
			amt = balance.Neg()
		}

		lines = append(lines, JournalEntryLine{
			AccountID: acct.ID,
			Side:      side,
			Amount:    amt,
			Memo:      "Year-end close",
		})

		// contra is the credit this line implies for retained earnings:
		// debiting an income account credits it, crediting an expense
		// account debits it.
		contra := amt
		if side == Credit {
			contra = amt.Neg()
		}
		merged, err := reNet.Add(contra)
		if err != nil {
			return nil, err
		}
		reNet = merged
	}

	if !reNet.IsZero() {
		side := Credit
		amt := reNet
		if reNet.Amount.Sign() < 0 {
			side = Debit
			amt = reNet.Neg()
		}
		lines = append(lines, JournalEntryLine{
			AccountID: retainedEarnings.ID,
			Side:      side,
			Amount:    amt,
			Memo:      "Year-end close: net income roll",
		})
	}

	return lines, nil
}

func (y *YearEndCloseService) accountBalanceForYear(acct *Account, fy *FiscalYear) (Money, error) {
	periods, err := y.storage.GetFiscalPeriodsByYear(fy.ID)
	if err != nil {
		return Money{}, err
	}
	periodIDs := map[string]bool{}
	for _, p := range periods {
		periodIDs[p.ID] = true
	}
	entries, err := y.storage.GetJournalEntriesByCompany(fy.CompanyID)
	if err != nil {
		return Money{}, err
	}
	balance := ZeroMoney(acct.Currency)
	for _, e := range entries {
		if e.Status != StatusPosted || !periodIDs[e.FiscalPeriodID] {
			continue
		}
		for _, line := range e.Lines {
			if line.AccountID != acct.ID {
				continue
			}
			mult := NormalBalanceMultiplier(acct.Type, line.Side)
			signed := line.Amount.MulScalar(decimalFromInt(mult))
			merged, err := balance.Add(signed)
			if err != nil {
				return Money{}, err
			}
			balance = merged
		}
	}
	return balance, nil
}

// ReopenFiscalYear reverses every closing entry recorded against the year
// by ID, reopens every period the close locked, and unlocks the fiscal
// year itself.
func (y *YearEndCloseService) ReopenFiscalYear(fiscalYearID, reopenedBy, reason string) error {
	fy, err := y.storage.GetFiscalYear(fiscalYearID)
	if err != nil {
		return fmt.Errorf("failed to load fiscal year: %w", err)
	}
	if !fy.Closed {
		return newDomainErr(ErrInvalidStateTransition, "fiscal year is not closed")
	}

	// Unlock the year and its periods before reversing the closing entries,
	// since Reverse posts into an open period and would otherwise have
	// nowhere to land but a later fiscal year.
	periods, err := y.storage.GetFiscalPeriodsByYear(fy.ID)
	if err != nil {
		return fmt.Errorf("failed to list fiscal periods: %w", err)
	}
	for _, p := range periods {
		if !p.Closed {
			continue
		}
		if err := y.calendar.OpenPeriod(p.ID, reopenedBy, reason); err != nil {
			return fmt.Errorf("failed to reopen fiscal period %d: %w", p.Number, err)
		}
	}

	fy.Closed = false
	fy.ClosedAt = nil
	if err := y.storage.SaveFiscalYear(fy); err != nil {
		return fmt.Errorf("failed to save fiscal year: %w", err)
	}

	for _, entryID := range fy.ClosingEntryIDs {
		entry, err := y.storage.GetJournalEntry(entryID)
		if err != nil {
			return fmt.Errorf("failed to load closing entry: %w", err)
		}
		if entry.Status != StatusPosted {
			continue
		}
		if _, err := y.journal.Reverse(entry.ID, reopenedBy, reason); err != nil {
			return fmt.Errorf("failed to reverse closing entry: %w", err)
		}
	}

	y.audit.Record(AuditEvent{Action: "fiscal_year.reopened", EntityID: fy.ID, UserID: reopenedBy})
	return nil
}
