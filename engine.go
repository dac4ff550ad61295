package accounting

// Engine is the composition root: it wires storage and every service
// together into one handle, the way AccountingEngine does in the system
// this package is descended from.

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Engine is the main entry point for the ledger and consolidation system.
type Engine struct {
	storage *Storage

	EventStore    *EventStore
	Processor     *EventProcessor
	Audit         *AuditSink
	Validator     *Validator
	FxRates       *FxRateStore
	Accounts      *AccountRepository
	Fiscal        *FiscalCalendar
	Journal       *JournalEngine
	YearEnd       *YearEndCloseService
	Authorization *AuthorizationEngine
	Intercompany  *IntercompanyMatcher
	Consolidation *ConsolidationEngine
	Reporting     *ReportingService
}

// NewEngine opens storage at dbPath and wires every service against it.
// varianceTolerance bounds how far an intercompany pair's amounts may
// differ and still auto-match (see IntercompanyMatcher).
func NewEngine(dbPath string, varianceTolerance decimal.Decimal) (*Engine, error) {
	storage, err := NewStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	eventStore := NewEventStore(storage)
	processor := NewEventProcessor(storage)
	audit := NewAuditSink(storage, 256)
	validator := NewValidator()

	fxRates := NewFxRateStore(storage)
	accounts := NewAccountRepository(storage, validator)
	fiscal := NewFiscalCalendar(storage, validator)
	journal := NewJournalEngine(storage, fiscal, accounts, validator, audit, eventStore)
	yearEnd := NewYearEndCloseService(storage, fiscal, journal, audit, eventStore)
	authz := NewAuthorizationEngine(storage, NewAuditDenialSink(audit))
	intercompany := NewIntercompanyMatcher(storage, varianceTolerance)
	consolidation := NewConsolidationEngine(storage, fxRates, intercompany, fiscal, audit)
	reporting := NewReportingService(storage)

	return &Engine{
		storage:       storage,
		EventStore:    eventStore,
		Processor:     processor,
		Audit:         audit,
		Validator:     validator,
		FxRates:       fxRates,
		Accounts:      accounts,
		Fiscal:        fiscal,
		Journal:       journal,
		YearEnd:       yearEnd,
		Authorization: authz,
		Intercompany:  intercompany,
		Consolidation: consolidation,
		Reporting:     reporting,
	}, nil
}

// Close flushes the audit sink and closes the underlying database.
func (e *Engine) Close() error {
	if err := e.Audit.Close(); err != nil {
		return err
	}
	return e.storage.Close()
}
