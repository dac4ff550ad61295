package accounting

// Intercompany matching pairs a journal entry line posted by one group
// company against the corresponding line posted by its counterparty, so
// the consolidation engine's MatchIC step knows which intercompany
// balances to eliminate and by how much any unmatched variance misses.

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type IntercompanyMatchStatus string

const (
	ICUnmatched        IntercompanyMatchStatus = "UNMATCHED"
	ICPartiallyMatched IntercompanyMatchStatus = "PARTIALLY_MATCHED"
	ICMatched          IntercompanyMatchStatus = "MATCHED"
	ICVarianceApproved IntercompanyMatchStatus = "VARIANCE_APPROVED"
)

// IntercompanyTransaction links a journal entry line on one company's
// books to the counterparty line on another company's books within the
// same consolidation group.
type IntercompanyTransaction struct {
	ID                 string                  `json:"id"`
	GroupID            string                  `json:"group_id" validate:"required"`
	CompanyID          string                  `json:"company_id" validate:"required"`
	JournalEntryLineID string                  `json:"journal_entry_line_id" validate:"required"`
	CounterpartyCompanyID string               `json:"counterparty_company_id" validate:"required"`
	CounterpartyLineID string                  `json:"counterparty_line_id,omitempty"`
	Amount             Money                   `json:"amount"`
	Status             IntercompanyMatchStatus `json:"status"`
	Variance           *Money                  `json:"variance,omitempty"`
	MatchedAt          *time.Time              `json:"matched_at,omitempty"`
	VarianceApprovedBy string                  `json:"variance_approved_by,omitempty"`
}

// IntercompanyMatcher matches intercompany transaction pairs within a
// tolerance and tracks which variances have been manually approved.
type IntercompanyMatcher struct {
	storage           *Storage
	varianceTolerance decimal.Decimal
}

// NewIntercompanyMatcher wires a matcher with a variance tolerance
// expressed in the functional currency's minor unit scale (e.g. "1.00").
func NewIntercompanyMatcher(storage *Storage, varianceTolerance decimal.Decimal) *IntercompanyMatcher {
	return &IntercompanyMatcher{storage: storage, varianceTolerance: varianceTolerance}
}

// RecordTransaction registers one side of an intercompany transaction,
// unmatched until its counterparty is recorded and matched.
func (m *IntercompanyMatcher) RecordTransaction(input *IntercompanyTransaction) (*IntercompanyTransaction, error) {
	input.ID = uuid.New().String()
	input.Status = ICUnmatched
	if err := m.storage.SaveIntercompanyTransaction(input); err != nil {
		return nil, fmt.Errorf("failed to save intercompany transaction: %w", err)
	}
	return input, nil
}

// MatchPending scans unmatched transactions within a group and pairs each
// one against its counterparty by company pair and amount, within
// tolerance, and returns the pairs it marked Matched. A pair whose amounts
// differ by more than the tolerance is linked but marked PartiallyMatched,
// with its Variance recorded so it can be reviewed, and is not returned.
func (m *IntercompanyMatcher) MatchPending(groupID string) ([]*IntercompanyTransaction, error) {
	pending, err := m.storage.GetUnmatchedIntercompanyTransactions(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending intercompany transactions: %w", err)
	}

	matchedNow := make([]*IntercompanyTransaction, 0)
	consumed := map[string]bool{}

	for i, txn := range pending {
		if consumed[txn.ID] {
			continue
		}
		for j := i + 1; j < len(pending); j++ {
			other := pending[j]
			if consumed[other.ID] {
				continue
			}
			if !m.isCounterpartyPair(txn, other) {
				continue
			}

			diff := txn.Amount.Amount.Add(other.Amount.Amount).Abs()
			now := time.Now()
			// Finding a counterparty at all links both rows, even when their
			// amounts don't yet agree within tolerance: PartiallyMatched means
			// a candidate on the other side has been identified but the pair
			// has not been confirmed into a full Matched state.
			txn.CounterpartyLineID, other.CounterpartyLineID = other.JournalEntryLineID, txn.JournalEntryLineID
			if diff.LessThanOrEqual(m.varianceTolerance) {
				txn.Status, other.Status = ICMatched, ICMatched
				txn.MatchedAt, other.MatchedAt = &now, &now
			} else {
				v := Money{Amount: diff, Currency: txn.Amount.Currency}
				txn.Variance, other.Variance = &v, &v
				txn.Status, other.Status = ICPartiallyMatched, ICPartiallyMatched
			}

			if err := m.storage.SaveIntercompanyTransaction(txn); err != nil {
				return nil, err
			}
			if err := m.storage.SaveIntercompanyTransaction(other); err != nil {
				return nil, err
			}

			consumed[txn.ID] = true
			consumed[other.ID] = true
			if txn.Status == ICMatched {
				matchedNow = append(matchedNow, txn, other)
			}
			break
		}
	}

	return matchedNow, nil
}

func (m *IntercompanyMatcher) isCounterpartyPair(a, b *IntercompanyTransaction) bool {
	return a.CompanyID == b.CounterpartyCompanyID && b.CompanyID == a.CounterpartyCompanyID
}

// ApproveVariance marks a transaction's unmatched variance as reviewed and
// accepted, so the elimination step can proceed using the recorded amount
// rather than blocking the consolidation run.
func (m *IntercompanyMatcher) ApproveVariance(transactionID, approvedBy string) error {
	txn, err := m.storage.GetIntercompanyTransaction(transactionID)
	if err != nil {
		return fmt.Errorf("failed to load intercompany transaction: %w", err)
	}
	if txn.Variance == nil {
		return newDomainErr(ErrValidation, "transaction has no outstanding variance")
	}
	txn.Status = ICVarianceApproved
	txn.VarianceApprovedBy = approvedBy
	return m.storage.SaveIntercompanyTransaction(txn)
}

// UnresolvedVariances returns every transaction in the group still
// carrying a variance that has not been approved, which blocks the
// Eliminate step of a consolidation run.
func (m *IntercompanyMatcher) UnresolvedVariances(groupID string) ([]*IntercompanyTransaction, error) {
	all, err := m.storage.GetIntercompanyTransactionsByGroup(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load intercompany transactions: %w", err)
	}
	var unresolved []*IntercompanyTransaction
	for _, t := range all {
		if t.Variance != nil && t.Status != ICVarianceApproved {
			unresolved = append(unresolved, t)
		}
	}
	return unresolved, nil
}
