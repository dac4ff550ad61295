package accounting

// Tenancy and the fiscal calendar: Organization owns one or more Company
// entities, each Company runs its own fiscal year made of periods that
// open and close independently.

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Organization is the top-level tenant boundary.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Company is a legal entity within an Organization, with its own
// functional currency and fiscal calendar.
type Company struct {
	ID               string       `json:"id"`
	OrganizationID   string       `json:"organization_id" validate:"required"`
	Name             string       `json:"name" validate:"required"`
	FunctionalCurrency CurrencyCode `json:"functional_currency" validate:"required"`
	Active           bool         `json:"active"`
	DeactivatedAt    *time.Time   `json:"deactivated_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// FiscalYear is a company's accounting year, divided into FiscalPeriods.
type FiscalYear struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Label     string    `json:"label"` // e.g. "FY2026"
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Closed    bool      `json:"closed"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ClosingEntryIDs []string `json:"closing_entry_ids,omitempty"`
}

// ReopenRecord is an append-only audit entry for a period reopen, since
// reopening a closed period is itself an event worth keeping a trail of.
type ReopenRecord struct {
	ReopenedAt time.Time `json:"reopened_at"`
	ReopenedBy string    `json:"reopened_by"`
	Reason     string    `json:"reason"`
}

// FiscalPeriod is a sub-window of a FiscalYear that journal entries post
// into. Period 13, when present, is flagged IsClosingPeriod and skipped by
// ResolvePeriodForDate, so Post never assigns an entry to it.
type FiscalPeriod struct {
	ID           string    `json:"id"`
	FiscalYearID string    `json:"fiscal_year_id"`
	Number       int       `json:"number"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Closed       bool      `json:"closed"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	IsClosingPeriod bool    `json:"is_closing_period"`
	ReopenHistory []ReopenRecord `json:"reopen_history,omitempty"`
}

// FiscalCalendar manages organizations, companies, and their fiscal years
// and periods.
type FiscalCalendar struct {
	storage   *Storage
	validator *Validator
}

// NewFiscalCalendar wires a fiscal calendar against storage.
func NewFiscalCalendar(storage *Storage, validator *Validator) *FiscalCalendar {
	return &FiscalCalendar{storage: storage, validator: validator}
}

// CreateOrganization registers a new tenant.
func (f *FiscalCalendar) CreateOrganization(name string) (*Organization, error) {
	org := &Organization{ID: uuid.New().String(), Name: name, Active: true, CreatedAt: time.Now()}
	if err := f.validator.Validate(org); err != nil {
		return nil, err
	}
	if err := f.storage.SaveOrganization(org); err != nil {
		return nil, fmt.Errorf("failed to save organization: %w", err)
	}
	return org, nil
}

// CreateCompany registers a legal entity under an organization.
func (f *FiscalCalendar) CreateCompany(orgID, name string, currency CurrencyCode) (*Company, error) {
	c := &Company{
		ID:                 uuid.New().String(),
		OrganizationID:     orgID,
		Name:               name,
		FunctionalCurrency: currency,
		Active:             true,
		CreatedAt:          time.Now(),
	}
	if err := f.validator.Validate(c); err != nil {
		return nil, err
	}
	if err := f.storage.SaveCompany(c); err != nil {
		return nil, fmt.Errorf("failed to save company: %w", err)
	}
	return c, nil
}

// DeactivateCompany retires a company once every journal entry against it
// has been posted (no Draft/PendingApproval/Approved entries outstanding).
func (f *FiscalCalendar) DeactivateCompany(companyID string) error {
	company, err := f.storage.GetCompany(companyID)
	if err != nil {
		return fmt.Errorf("failed to load company: %w", err)
	}
	entries, err := f.storage.GetJournalEntriesByCompany(companyID)
	if err != nil {
		return fmt.Errorf("failed to list journal entries: %w", err)
	}
	for _, e := range entries {
		if e.Status != StatusPosted && e.Status != StatusReversed {
			return newDomainErr(ErrInvalidStateTransition, fmt.Sprintf("company has unposted entry %s in status %s", e.ID, e.Status))
		}
	}
	now := time.Now()
	company.Active = false
	company.DeactivatedAt = &now
	return f.storage.SaveCompany(company)
}

// CreateFiscalYear lays out a fiscal year of periodCount periods (12 or
// 13); the 13th, when requested, is a period at the year's end flagged as
// the closing period. ResolvePeriodForDate skips it, so year-end close
// posts its closing entry into the last regular period either way.
func (f *FiscalCalendar) CreateFiscalYear(companyID, label string, start, end time.Time, periodCount int) (*FiscalYear, []*FiscalPeriod, error) {
	if periodCount != 12 && periodCount != 13 {
		return nil, nil, newDomainErr(ErrValidation, "periodCount must be 12 or 13")
	}

	fy := &FiscalYear{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		Label:     label,
		Start:     start,
		End:       end,
	}
	if err := f.storage.SaveFiscalYear(fy); err != nil {
		return nil, nil, fmt.Errorf("failed to save fiscal year: %w", err)
	}

	regularPeriods := periodCount
	if periodCount == 13 {
		regularPeriods = 12
	}

	totalDays := end.Sub(start)
	periodLen := totalDays / time.Duration(regularPeriods)

	periods := make([]*FiscalPeriod, 0, periodCount)
	cursor := start
	for i := 1; i <= regularPeriods; i++ {
		periodEnd := cursor.Add(periodLen)
		if i == regularPeriods {
			periodEnd = end
		}
		p := &FiscalPeriod{
			ID:           uuid.New().String(),
			FiscalYearID: fy.ID,
			Number:       i,
			Start:        cursor,
			End:          periodEnd,
		}
		if err := f.storage.SaveFiscalPeriod(p); err != nil {
			return nil, nil, fmt.Errorf("failed to save fiscal period: %w", err)
		}
		periods = append(periods, p)
		cursor = periodEnd
	}

	if periodCount == 13 {
		closing := &FiscalPeriod{
			ID:              uuid.New().String(),
			FiscalYearID:    fy.ID,
			Number:          13,
			Start:           end,
			End:             end,
			IsClosingPeriod: true,
		}
		if err := f.storage.SaveFiscalPeriod(closing); err != nil {
			return nil, nil, fmt.Errorf("failed to save closing period: %w", err)
		}
		periods = append(periods, closing)
	}

	return fy, periods, nil
}

// ResolvePeriodForDate returns the fiscal period a business date falls
// into, excluding the reserved closing period.
func (f *FiscalCalendar) ResolvePeriodForDate(fiscalYearID string, date time.Time) (*FiscalPeriod, error) {
	periods, err := f.storage.GetFiscalPeriodsByYear(fiscalYearID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fiscal periods: %w", err)
	}
	for _, p := range periods {
		if p.IsClosingPeriod {
			continue
		}
		if !date.Before(p.Start) && date.Before(p.End.Add(time.Nanosecond)) {
			return p, nil
		}
	}
	return nil, newDomainErr(ErrNotFound, fmt.Sprintf("no fiscal period covers %s", date.Format("2006-01-02")))
}

// ClosePeriod locks a period against further postings.
func (f *FiscalCalendar) ClosePeriod(periodID string) error {
	p, err := f.storage.GetFiscalPeriod(periodID)
	if err != nil {
		return fmt.Errorf("failed to load fiscal period: %w", err)
	}
	if p.Closed {
		return nil
	}
	now := time.Now()
	p.Closed = true
	p.ClosedAt = &now
	return f.storage.SaveFiscalPeriod(p)
}

// OpenPeriod reopens a closed period, appending to its reopen history so
// the reopen is independently auditable even though the period's Closed
// flag goes back to false.
func (f *FiscalCalendar) OpenPeriod(periodID, reopenedBy, reason string) error {
	p, err := f.storage.GetFiscalPeriod(periodID)
	if err != nil {
		return fmt.Errorf("failed to load fiscal period: %w", err)
	}
	if !p.Closed {
		return nil
	}
	p.Closed = false
	p.ClosedAt = nil
	p.ReopenHistory = append(p.ReopenHistory, ReopenRecord{
		ReopenedAt: time.Now(),
		ReopenedBy: reopenedBy,
		Reason:     reason,
	})
	return f.storage.SaveFiscalPeriod(p)
}
