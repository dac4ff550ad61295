package accounting

// Journal entry lifecycle: Draft -> PendingApproval -> Approved -> Posted,
// with Reversed as a terminal branch off Posted. Every transition is
// validated against the invariants the ledger depends on: the entry must
// balance, every line must target a postable account in an open period,
// and the preparer cannot also be the approver.

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type EntrySide string

const (
	Debit  EntrySide = "DEBIT"
	Credit EntrySide = "CREDIT"
)

type JournalEntryStatus string

const (
	StatusDraft           JournalEntryStatus = "DRAFT"
	StatusPendingApproval JournalEntryStatus = "PENDING_APPROVAL"
	StatusApproved        JournalEntryStatus = "APPROVED"
	StatusPosted          JournalEntryStatus = "POSTED"
	StatusReversed        JournalEntryStatus = "REVERSED"
)

// JournalEntryLine is a single debit or credit against one account.
type JournalEntryLine struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id" validate:"required"`
	Side      EntrySide `json:"side" validate:"required"`
	Amount    Money     `json:"amount"`
	Memo      string    `json:"memo,omitempty"`
	SourceTag string    `json:"source_tag,omitempty"` // e.g. "AP", "AR", "MANUAL"
}

// JournalEntry is the unit of posting to the general ledger.
type JournalEntry struct {
	ID              string             `json:"id"`
	CompanyID       string             `json:"company_id" validate:"required"`
	EntryNumber     int                `json:"entry_number"`
	FiscalPeriodID  string             `json:"fiscal_period_id"`
	TransactionDate time.Time          `json:"transaction_date"`
	PostingDate     *time.Time         `json:"posting_date,omitempty"`
	Description     string             `json:"description"`
	Status          JournalEntryStatus `json:"status"`
	Lines           []JournalEntryLine `json:"lines" validate:"required,min=2,dive"`

	PreparedBy string `json:"prepared_by"`
	ApprovedBy string `json:"approved_by,omitempty"`

	ReversedEntryID  string `json:"reversed_entry_id,omitempty"`
	ReversingEntryID string `json:"reversing_entry_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JournalEngine enforces the entry lifecycle and posts balanced entries
// into the ledger.
type JournalEngine struct {
	storage   *Storage
	calendar  *FiscalCalendar
	accounts  *AccountRepository
	validator *Validator
	audit     *AuditSink
	events    *EventStore
}

// NewJournalEngine wires a journal engine from its collaborators.
func NewJournalEngine(storage *Storage, calendar *FiscalCalendar, accounts *AccountRepository, validator *Validator, audit *AuditSink, events *EventStore) *JournalEngine {
	return &JournalEngine{storage: storage, calendar: calendar, accounts: accounts, validator: validator, audit: audit, events: events}
}

// CreateDraftInput collects the fields needed to start a new journal entry.
type CreateDraftInput struct {
	CompanyID       string
	TransactionDate time.Time
	Description     string
	Lines           []JournalEntryLine
	PreparedBy      string
}

// CreateDraft validates balance and account postability, then persists a
// new entry in Draft status. Posting date and fiscal period are resolved
// later, at Post time, so a draft can sit against a period that is still
// open when it is finally posted.
func (j *JournalEngine) CreateDraft(input CreateDraftInput) (*JournalEntry, error) {
	entry := &JournalEntry{
		ID:              uuid.New().String(),
		CompanyID:       input.CompanyID,
		TransactionDate: input.TransactionDate,
		Description:     input.Description,
		Status:          StatusDraft,
		Lines:           input.Lines,
		PreparedBy:      input.PreparedBy,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	for i := range entry.Lines {
		if entry.Lines[i].ID == "" {
			entry.Lines[i].ID = uuid.New().String()
		}
	}

	if err := j.validator.Validate(entry); err != nil {
		return nil, err
	}
	if err := j.validateBalance(entry); err != nil {
		return nil, err
	}
	if err := j.validateAccounts(entry); err != nil {
		return nil, err
	}

	entryNumber, err := j.storage.NextEntryNumber(entry.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate entry number: %w", err)
	}
	entry.EntryNumber = entryNumber

	if err := j.storage.SaveJournalEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to save journal entry: %w", err)
	}
	j.audit.Record(AuditEvent{Action: "journal_entry.draft_created", EntityID: entry.ID, UserID: input.PreparedBy})
	return entry, nil
}

// validateBalance enforces I1: total debits equal total credits, per
// currency, on every entry.
func (j *JournalEngine) validateBalance(entry *JournalEntry) error {
	totals := map[CurrencyCode]Money{}
	for _, line := range entry.Lines {
		running, ok := totals[line.Amount.Currency]
		if !ok {
			running = ZeroMoney(line.Amount.Currency)
		}
		signed := line.Amount
		if line.Side == Credit {
			signed = signed.Neg()
		}
		merged, err := running.Add(signed)
		if err != nil {
			return err
		}
		totals[line.Amount.Currency] = merged
	}
	for currency, total := range totals {
		if !total.IsZero() {
			return newDomainErr(ErrUnbalancedJournalEntry, fmt.Sprintf("entry does not balance in %s: net %s", currency, total.Amount.String()))
		}
	}
	return nil
}

// validateAccounts enforces I2/I3: every line targets an existing,
// active, postable account.
func (j *JournalEngine) validateAccounts(entry *JournalEntry) error {
	for _, line := range entry.Lines {
		acct, err := j.storage.GetAccount(line.AccountID)
		if err != nil {
			return newDomainErr(ErrNotFound, fmt.Sprintf("account %s not found", line.AccountID))
		}
		if !acct.Active {
			return newDomainErr(ErrAccountInactive, fmt.Sprintf("account %s is inactive", acct.Number))
		}
		if !acct.Postable {
			return newDomainErr(ErrAccountNotPostable, fmt.Sprintf("account %s is not postable", acct.Number))
		}
	}
	return nil
}

// SubmitForApproval transitions Draft -> PendingApproval.
func (j *JournalEngine) SubmitForApproval(entryID string) error {
	entry, err := j.storage.GetJournalEntry(entryID)
	if err != nil {
		return fmt.Errorf("failed to load journal entry: %w", err)
	}
	if entry.Status != StatusDraft {
		return newDomainErr(ErrInvalidStateTransition, fmt.Sprintf("cannot submit entry in status %s", entry.Status))
	}
	entry.Status = StatusPendingApproval
	entry.UpdatedAt = time.Now()
	return j.storage.SaveJournalEntry(entry)
}

// Approve transitions PendingApproval -> Approved. The approver must not
// be the preparer (segregation of duties).
func (j *JournalEngine) Approve(entryID, approverID string) error {
	entry, err := j.storage.GetJournalEntry(entryID)
	if err != nil {
		return fmt.Errorf("failed to load journal entry: %w", err)
	}
	if entry.Status != StatusPendingApproval {
		return newDomainErr(ErrInvalidStateTransition, fmt.Sprintf("cannot approve entry in status %s", entry.Status))
	}
	if entry.PreparedBy == approverID {
		return newDomainErr(ErrSegregationOfDuties, "preparer cannot approve their own entry")
	}
	entry.Status = StatusApproved
	entry.ApprovedBy = approverID
	entry.UpdatedAt = time.Now()
	if err := j.storage.SaveJournalEntry(entry); err != nil {
		return err
	}
	j.audit.Record(AuditEvent{Action: "journal_entry.approved", EntityID: entry.ID, UserID: approverID})
	return nil
}

// Post transitions Approved -> Posted, resolving the fiscal period for
// the transaction date and rejecting the post if that period is closed.
func (j *JournalEngine) Post(entryID string) error {
	entry, err := j.storage.GetJournalEntry(entryID)
	if err != nil {
		return fmt.Errorf("failed to load journal entry: %w", err)
	}
	if entry.Status != StatusApproved {
		return newDomainErr(ErrInvalidStateTransition, fmt.Sprintf("cannot post entry in status %s", entry.Status))
	}

	company, err := j.storage.GetCompany(entry.CompanyID)
	if err != nil {
		return fmt.Errorf("failed to load company: %w", err)
	}
	fiscalYear, err := j.storage.GetCurrentFiscalYear(company.ID, entry.TransactionDate)
	if err != nil {
		return fmt.Errorf("failed to resolve fiscal year: %w", err)
	}
	if fiscalYear.Closed {
		return newDomainErr(ErrFiscalPeriodClosed, fmt.Sprintf("fiscal year %s is closed", fiscalYear.Label))
	}
	period, err := j.calendar.ResolvePeriodForDate(fiscalYear.ID, entry.TransactionDate)
	if err != nil {
		return err
	}
	if period.Closed {
		return newDomainErr(ErrFiscalPeriodClosed, fmt.Sprintf("fiscal period %d is closed", period.Number))
	}

	now := time.Now()
	entry.Status = StatusPosted
	entry.FiscalPeriodID = period.ID
	entry.PostingDate = &now
	entry.UpdatedAt = now

	if err := j.storage.SaveJournalEntry(entry); err != nil {
		return fmt.Errorf("failed to save posted entry: %w", err)
	}
	if _, err := j.events.CreateEvent(EventJournalEntryPosted, JournalEntryPostedPayload{
		JournalEntryID: entry.ID,
		CompanyID:      entry.CompanyID,
		PostedAt:       now,
	}, entry.ApprovedBy); err != nil {
		return fmt.Errorf("failed to record posting event: %w", err)
	}
	j.audit.Record(AuditEvent{Action: "journal_entry.posted", EntityID: entry.ID})
	return nil
}

// Reverse creates a new entry with debit/credit sides flipped on every
// line, posts it immediately, and links the two entries bidirectionally.
func (j *JournalEngine) Reverse(entryID, reversedBy, reason string) (*JournalEntry, error) {
	original, err := j.storage.GetJournalEntry(entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal entry: %w", err)
	}
	if original.Status != StatusPosted {
		return nil, newDomainErr(ErrNotPosted, "can only reverse a posted entry")
	}
	if original.ReversingEntryID != "" {
		return nil, newDomainErr(ErrAlreadyReversed, fmt.Sprintf("entry %s already reversed by %s", original.ID, original.ReversingEntryID))
	}

	reversedLines := make([]JournalEntryLine, 0, len(original.Lines))
	for _, line := range original.Lines {
		flipped := Debit
		if line.Side == Debit {
			flipped = Credit
		}
		reversedLines = append(reversedLines, JournalEntryLine{
			ID:        uuid.New().String(),
			AccountID: line.AccountID,
			Side:      flipped,
			Amount:    line.Amount,
			Memo:      fmt.Sprintf("Reversal: %s", reason),
			SourceTag: line.SourceTag,
		})
	}

	reversalDate, err := j.resolveReversalDate(original)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reversal date: %w", err)
	}

	reversing, err := j.CreateDraft(CreateDraftInput{
		CompanyID:       original.CompanyID,
		TransactionDate: reversalDate,
		Description:     fmt.Sprintf("Reversal of entry #%d: %s", original.EntryNumber, reason),
		Lines:           reversedLines,
		PreparedBy:      reversedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to draft reversing entry: %w", err)
	}
	reversing.ReversedEntryID = original.ID
	// Reversals are system-generated mirrors of an already-approved entry,
	// so the normal preparer/approver segregation of duties does not apply:
	// route straight to PendingApproval and approve under a system actor.
	reversing.Status = StatusPendingApproval
	if err := j.storage.SaveJournalEntry(reversing); err != nil {
		return nil, err
	}
	if err := j.Approve(reversing.ID, "SYSTEM_REVERSAL"); err != nil {
		return nil, err
	}
	if err := j.Post(reversing.ID); err != nil {
		return nil, err
	}

	reversing, err = j.storage.GetJournalEntry(reversing.ID)
	if err != nil {
		return nil, err
	}

	original.Status = StatusReversed
	original.ReversingEntryID = reversing.ID
	original.UpdatedAt = time.Now()
	if err := j.storage.SaveJournalEntry(original); err != nil {
		return nil, fmt.Errorf("failed to mark original entry reversed: %w", err)
	}
	j.audit.Record(AuditEvent{Action: "journal_entry.reversed", EntityID: original.ID, UserID: reversedBy})

	return reversing, nil
}

// resolveReversalDate implements I5: a reversal prefers the original
// entry's own fiscal period, posting on the same transaction date, but
// when that period (or its fiscal year) has since closed it falls
// forward to the start of the nearest later Open, non-closing period, and
// fails with ErrFiscalPeriodClosed when no such later period exists.
func (j *JournalEngine) resolveReversalDate(original *JournalEntry) (time.Time, error) {
	if original.FiscalPeriodID != "" {
		period, err := j.storage.GetFiscalPeriod(original.FiscalPeriodID)
		if err == nil && !period.Closed {
			fy, err := j.storage.GetFiscalYear(period.FiscalYearID)
			if err == nil && !fy.Closed {
				return original.TransactionDate, nil
			}
		}
	}

	years, err := j.storage.GetFiscalYearsByCompany(original.CompanyID)
	if err != nil {
		return time.Time{}, err
	}
	sort.Slice(years, func(i, j int) bool { return years[i].Start.Before(years[j].Start) })

	var candidates []*FiscalPeriod
	for _, fy := range years {
		if fy.Closed {
			continue
		}
		periods, err := j.storage.GetFiscalPeriodsByYear(fy.ID)
		if err != nil {
			return time.Time{}, err
		}
		for _, p := range periods {
			if p.IsClosingPeriod || p.Closed {
				continue
			}
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return time.Time{}, newDomainErr(ErrFiscalPeriodClosed, "no open fiscal period available to post a reversal into")
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Start.Before(candidates[j].Start) })

	for _, p := range candidates {
		if !p.Start.Before(original.TransactionDate) {
			return p.Start, nil
		}
	}
	return time.Time{}, newDomainErr(ErrFiscalPeriodClosed, "no open fiscal period on or after the original transaction date to post a reversal into")
}
