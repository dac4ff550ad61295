package accounting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPendingWithinTolerance(t *testing.T) {
	storage := newTestStorage(t)
	matcher := NewIntercompanyMatcher(storage, decimal.NewFromFloat(0.01))

	parent, err := matcher.RecordTransaction(&IntercompanyTransaction{
		GroupID:               "group-1",
		CompanyID:             "parent",
		JournalEntryLineID:    "line-parent",
		CounterpartyCompanyID: "sub",
		Amount:                mustMoney(t, "8000.00", "USD"),
	})
	require.NoError(t, err)

	sub, err := matcher.RecordTransaction(&IntercompanyTransaction{
		GroupID:               "group-1",
		CompanyID:             "sub",
		JournalEntryLineID:    "line-sub",
		CounterpartyCompanyID: "parent",
		Amount:                mustMoney(t, "-8000.00", "USD"),
	})
	require.NoError(t, err)

	matched, err := matcher.MatchPending("group-1")
	require.NoError(t, err)
	assert.Len(t, matched, 2)

	reloadedParent, err := storage.GetIntercompanyTransaction(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, ICMatched, reloadedParent.Status)
	assert.Equal(t, "line-sub", reloadedParent.CounterpartyLineID)

	reloadedSub, err := storage.GetIntercompanyTransaction(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ICMatched, reloadedSub.Status)
	assert.Equal(t, "line-parent", reloadedSub.CounterpartyLineID)
}

func TestMatchPendingOutsideToleranceRecordsVariance(t *testing.T) {
	storage := newTestStorage(t)
	matcher := NewIntercompanyMatcher(storage, decimal.NewFromFloat(0.01))

	_, err := matcher.RecordTransaction(&IntercompanyTransaction{
		GroupID:               "group-1",
		CompanyID:             "parent",
		JournalEntryLineID:    "line-parent",
		CounterpartyCompanyID: "sub",
		Amount:                mustMoney(t, "8000.00", "USD"),
	})
	require.NoError(t, err)
	_, err = matcher.RecordTransaction(&IntercompanyTransaction{
		GroupID:               "group-1",
		CompanyID:             "sub",
		JournalEntryLineID:    "line-sub",
		CounterpartyCompanyID: "parent",
		Amount:                mustMoney(t, "-7950.00", "USD"),
	})
	require.NoError(t, err)

	matched, err := matcher.MatchPending("group-1")
	require.NoError(t, err)
	assert.Empty(t, matched)

	unresolved, err := matcher.UnresolvedVariances("group-1")
	require.NoError(t, err)
	require.Len(t, unresolved, 2)
	assert.NotNil(t, unresolved[0].Variance)
}

func TestApproveVarianceClearsFromUnresolvedList(t *testing.T) {
	storage := newTestStorage(t)
	matcher := NewIntercompanyMatcher(storage, decimal.NewFromFloat(0.01))

	parent, err := matcher.RecordTransaction(&IntercompanyTransaction{
		GroupID:               "group-1",
		CompanyID:             "parent",
		JournalEntryLineID:    "line-parent",
		CounterpartyCompanyID: "sub",
		Amount:                mustMoney(t, "8000.00", "USD"),
	})
	require.NoError(t, err)
	_, err = matcher.RecordTransaction(&IntercompanyTransaction{
		GroupID:               "group-1",
		CompanyID:             "sub",
		JournalEntryLineID:    "line-sub",
		CounterpartyCompanyID: "parent",
		Amount:                mustMoney(t, "-7950.00", "USD"),
	})
	require.NoError(t, err)
	_, err = matcher.MatchPending("group-1")
	require.NoError(t, err)

	require.NoError(t, matcher.ApproveVariance(parent.ID, "controller"))

	unresolved, err := matcher.UnresolvedVariances("group-1")
	require.NoError(t, err)
	for _, u := range unresolved {
		assert.NotEqual(t, parent.ID, u.ID)
	}
}

func TestApproveVarianceRejectsWithoutVariance(t *testing.T) {
	storage := newTestStorage(t)
	matcher := NewIntercompanyMatcher(storage, decimal.NewFromFloat(0.01))

	txn, err := matcher.RecordTransaction(&IntercompanyTransaction{
		GroupID:               "group-1",
		CompanyID:             "parent",
		JournalEntryLineID:    "line-parent",
		CounterpartyCompanyID: "sub",
		Amount:                mustMoney(t, "8000.00", "USD"),
	})
	require.NoError(t, err)

	err = matcher.ApproveVariance(txn.ID, "controller")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrValidation))
}
