package accounting

// Storage Layer Serialization Strategy:
// - Every entity is serialized with encoding/json and stored in its own
//   bbolt bucket, keyed by ID. bbolt's single-writer transactions give
//   every Save/Get its ACID guarantees for free; this package only has to
//   pick the right bucket and key.

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// Storage buckets, one per entity kind.
var (
	BucketOrganizations            = []byte("organizations")
	BucketCompanies                = []byte("companies")
	BucketAccounts                 = []byte("accounts")
	BucketFiscalYears              = []byte("fiscal_years")
	BucketFiscalPeriods            = []byte("fiscal_periods")
	BucketJournalEntries           = []byte("journal_entries")
	BucketEntryNumberSequences     = []byte("entry_number_sequences")
	BucketExchangeRates            = []byte("exchange_rates")
	BucketPolicies                 = []byte("policies")
	BucketIntercompanyTransactions = []byte("intercompany_transactions")
	BucketConsolidationGroups      = []byte("consolidation_groups")
	BucketEliminationRules         = []byte("elimination_rules")
	BucketConsolidationRuns        = []byte("consolidation_runs")
	BucketEliminationEntries       = []byte("elimination_entries")
	BucketAuditEvents              = []byte("audit_events")
	BucketEvents                   = []byte("events")
)

var allBuckets = [][]byte{
	BucketOrganizations, BucketCompanies, BucketAccounts,
	BucketFiscalYears, BucketFiscalPeriods, BucketJournalEntries, BucketEntryNumberSequences,
	BucketExchangeRates, BucketPolicies, BucketIntercompanyTransactions,
	BucketConsolidationGroups, BucketEliminationRules, BucketConsolidationRuns, BucketEliminationEntries,
	BucketAuditEvents, BucketEvents,
}

// Storage provides persistent storage for the ledger engine.
type Storage struct {
	db *bbolt.DB
}

// NewStorage opens (creating if necessary) a bbolt database at dbPath and
// initializes every bucket this engine uses.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &Storage{db: db}
	if err := storage.initBuckets(); err != nil {
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return storage, nil
}

// Close closes the underlying database file.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func put(tx *bbolt.Tx, bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get(tx *bbolt.Tx, bucket []byte, key string, out interface{}) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return newDomainErr(ErrNotFound, fmt.Sprintf("%s not found: %s", bucket, key))
	}
	return json.Unmarshal(data, out)
}

func scan(tx *bbolt.Tx, bucket []byte, visit func(key, value []byte) error) error {
	c := tx.Bucket(bucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if err := visit(k, v); err != nil {
			return err
		}
	}
	return nil
}

// --- Organization / Company -------------------------------------------------

func (s *Storage) SaveOrganization(org *Organization) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketOrganizations, org.ID, org) })
}

func (s *Storage) GetOrganization(id string) (*Organization, error) {
	var org Organization
	err := s.db.View(func(tx *bbolt.Tx) error { return get(tx, BucketOrganizations, id, &org) })
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *Storage) SaveCompany(c *Company) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketCompanies, c.ID, c) })
}

func (s *Storage) GetCompany(id string) (*Company, error) {
	var c Company
	err := s.db.View(func(tx *bbolt.Tx) error { return get(tx, BucketCompanies, id, &c) })
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Accounts ----------------------------------------------------------------

func (s *Storage) SaveAccount(a *Account) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketAccounts, a.ID, a) })
}

func (s *Storage) GetAccount(id string) (*Account, error) {
	var a Account
	err := s.db.View(func(tx *bbolt.Tx) error { return get(tx, BucketAccounts, id, &a) })
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Storage) GetAccountsByCompany(companyID string) ([]*Account, error) {
	var out []*Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketAccounts, func(_, v []byte) error {
			var a Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.CompanyID == companyID {
				out = append(out, &a)
			}
			return nil
		})
	})
	return out, err
}

// --- Fiscal calendar -----------------------------------------------------------

func (s *Storage) SaveFiscalYear(fy *FiscalYear) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketFiscalYears, fy.ID, fy) })
}

func (s *Storage) GetFiscalYear(id string) (*FiscalYear, error) {
	var fy FiscalYear
	err := s.db.View(func(tx *bbolt.Tx) error { return get(tx, BucketFiscalYears, id, &fy) })
	if err != nil {
		return nil, err
	}
	return &fy, nil
}

// GetCurrentFiscalYear returns the fiscal year for a company whose
// [Start, End] window covers the given date.
func (s *Storage) GetCurrentFiscalYear(companyID string, asOf time.Time) (*FiscalYear, error) {
	var found *FiscalYear
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketFiscalYears, func(_, v []byte) error {
			var fy FiscalYear
			if err := json.Unmarshal(v, &fy); err != nil {
				return err
			}
			if fy.CompanyID == companyID && !asOf.Before(fy.Start) && !asOf.After(fy.End) {
				found = &fy
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, newDomainErr(ErrNotFound, fmt.Sprintf("no fiscal year covers %s for company %s", asOf.Format("2006-01-02"), companyID))
	}
	return found, nil
}

// GetFiscalYearsByCompany returns every fiscal year recorded for a company,
// ordered by Start ascending.
func (s *Storage) GetFiscalYearsByCompany(companyID string) ([]*FiscalYear, error) {
	var out []*FiscalYear
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketFiscalYears, func(_, v []byte) error {
			var fy FiscalYear
			if err := json.Unmarshal(v, &fy); err != nil {
				return err
			}
			if fy.CompanyID == companyID {
				out = append(out, &fy)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Storage) SaveFiscalPeriod(p *FiscalPeriod) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketFiscalPeriods, p.ID, p) })
}

func (s *Storage) GetFiscalPeriod(id string) (*FiscalPeriod, error) {
	var p FiscalPeriod
	err := s.db.View(func(tx *bbolt.Tx) error { return get(tx, BucketFiscalPeriods, id, &p) })
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) GetFiscalPeriodsByYear(fiscalYearID string) ([]*FiscalPeriod, error) {
	var out []*FiscalPeriod
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketFiscalPeriods, func(_, v []byte) error {
			var p FiscalPeriod
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.FiscalYearID == fiscalYearID {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

// --- Journal entries -----------------------------------------------------------

func (s *Storage) SaveJournalEntry(e *JournalEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketJournalEntries, e.ID, e) })
}

func (s *Storage) GetJournalEntry(id string) (*JournalEntry, error) {
	var e JournalEntry
	err := s.db.View(func(tx *bbolt.Tx) error { return get(tx, BucketJournalEntries, id, &e) })
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Storage) GetJournalEntriesByCompany(companyID string) ([]*JournalEntry, error) {
	var out []*JournalEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketJournalEntries, func(_, v []byte) error {
			var e JournalEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.CompanyID == companyID {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}

// NextEntryNumber allocates the next monotonic entry number for a
// company, stored as a big-endian uint64 counter so it survives restarts.
func (s *Storage) NextEntryNumber(companyID string) (int, error) {
	var next uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(BucketEntryNumberSequences)
		key := []byte(companyID)
		current := uint64(0)
		if data := b.Get(key); data != nil {
			current = binary.BigEndian.Uint64(data)
		}
		next = current + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		return b.Put(key, buf)
	})
	return int(next), err
}

// --- FX rates --------------------------------------------------------------

func (s *Storage) SaveExchangeRate(r *ExchangeRate) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketExchangeRates, r.ID, r) })
}

func (s *Storage) SaveExchangeRatesBatch(rates []*ExchangeRate) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, r := range rates {
			if err := put(tx, BucketExchangeRates, r.ID, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) GetExchangeRates(from, to CurrencyCode) ([]*ExchangeRate, error) {
	var out []*ExchangeRate
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketExchangeRates, func(_, v []byte) error {
			var r ExchangeRate
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.FromCurrency == from && r.ToCurrency == to {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}

// --- Authorization policies --------------------------------------------------

func (s *Storage) SavePolicy(p *Policy) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketPolicies, p.ID, p) })
}

func (s *Storage) GetPoliciesByOrganization(orgID string) ([]*Policy, error) {
	var out []*Policy
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketPolicies, func(_, v []byte) error {
			var p Policy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.OrganizationID == orgID {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

// --- Intercompany ------------------------------------------------------------

func (s *Storage) SaveIntercompanyTransaction(t *IntercompanyTransaction) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketIntercompanyTransactions, t.ID, t) })
}

func (s *Storage) GetIntercompanyTransaction(id string) (*IntercompanyTransaction, error) {
	var t IntercompanyTransaction
	err := s.db.View(func(tx *bbolt.Tx) error { return get(tx, BucketIntercompanyTransactions, id, &t) })
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Storage) GetIntercompanyTransactionsByGroup(groupID string) ([]*IntercompanyTransaction, error) {
	var out []*IntercompanyTransaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketIntercompanyTransactions, func(_, v []byte) error {
			var t IntercompanyTransaction
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.GroupID == groupID {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

func (s *Storage) GetUnmatchedIntercompanyTransactions(groupID string) ([]*IntercompanyTransaction, error) {
	all, err := s.GetIntercompanyTransactionsByGroup(groupID)
	if err != nil {
		return nil, err
	}
	var out []*IntercompanyTransaction
	for _, t := range all {
		if t.Status == ICUnmatched {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- Consolidation -----------------------------------------------------------

func (s *Storage) SaveConsolidationGroup(g *ConsolidationGroup) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketConsolidationGroups, g.ID, g) })
}

func (s *Storage) GetConsolidationGroup(id string) (*ConsolidationGroup, error) {
	var g ConsolidationGroup
	err := s.db.View(func(tx *bbolt.Tx) error { return get(tx, BucketConsolidationGroups, id, &g) })
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Storage) SaveEliminationRule(r *EliminationRule) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketEliminationRules, r.ID, r) })
}

func (s *Storage) GetEliminationRulesByGroup(groupID string) ([]*EliminationRule, error) {
	var out []*EliminationRule
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketEliminationRules, func(_, v []byte) error {
			var r EliminationRule
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.GroupID == groupID {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}

func (s *Storage) SaveEliminationEntry(e *EliminationEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketEliminationEntries, e.ID, e) })
}

func (s *Storage) GetEliminationEntriesByRun(runID string) ([]*EliminationEntry, error) {
	var out []*EliminationEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketEliminationEntries, func(_, v []byte) error {
			var e EliminationEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.RunID == runID {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}

func (s *Storage) SaveConsolidationRun(r *ConsolidationRun) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketConsolidationRuns, r.ID, r) })
}

func (s *Storage) GetConsolidationRun(id string) (*ConsolidationRun, error) {
	var r ConsolidationRun
	err := s.db.View(func(tx *bbolt.Tx) error { return get(tx, BucketConsolidationRuns, id, &r) })
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Audit -------------------------------------------------------------------

// AppendAuditEvent writes an audit record keyed by timestamp+entity ID so the
// bucket iterates in chronological order.
func (s *Storage) AppendAuditEvent(event AuditEvent) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := fmt.Sprintf("%d_%s", event.RecordedAt.UnixNano(), event.EntityID)
		return put(tx, BucketAuditEvents, key, event)
	})
}

// GetAuditEvents returns every audit event within [from, to].
func (s *Storage) GetAuditEvents(from, to time.Time) ([]AuditEvent, error) {
	var out []AuditEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx, BucketAuditEvents, func(_, v []byte) error {
			var e AuditEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !e.RecordedAt.Before(from) && !e.RecordedAt.After(to) {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// --- Event log -----------------------------------------------------------------

// AppendEvent appends a journal event to the append-only event log.
func (s *Storage) AppendEvent(event *JournalEvent) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := fmt.Sprintf("%d_%s", event.TransactionTime.UnixNano(), event.ID)
		return put(tx, BucketEvents, key, event)
	})
}

// GetEvents retrieves events within a time range, ordered by key.
func (s *Storage) GetEvents(from, to time.Time) ([]*JournalEvent, error) {
	var out []*JournalEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(BucketEvents).Cursor()
		fromKey := []byte(fmt.Sprintf("%d", from.UnixNano()))
		toKey := []byte(fmt.Sprintf("%d", to.UnixNano()+1))
		for k, v := c.Seek(fromKey); k != nil && string(k) < string(toKey); k, v = c.Next() {
			var event JournalEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("failed to unmarshal event: %w", err)
			}
			out = append(out, &event)
		}
		return nil
	})
	return out, err
}
