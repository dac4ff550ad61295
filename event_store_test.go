package accounting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEventAndGetEventsRoundTrip(t *testing.T) {
	storage := newTestStorage(t)
	store := NewEventStore(storage)

	before := time.Now()
	_, err := store.CreateEvent(EventAccountCreated, map[string]string{"account_id": "acct-1"}, "clerk")
	require.NoError(t, err)
	after := time.Now()

	events, err := store.GetEvents(before.Add(-time.Second), after.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventAccountCreated, events[0].EventType)
	assert.Equal(t, "clerk", events[0].UserID)
}

func TestReplayEventsVisitsInOrder(t *testing.T) {
	storage := newTestStorage(t)
	store := NewEventStore(storage)
	before := time.Now()

	_, err := store.CreateEvent(EventJournalEntryDrafted, map[string]string{"id": "1"}, "clerk")
	require.NoError(t, err)
	_, err = store.CreateEvent(EventJournalEntryApproved, map[string]string{"id": "1"}, "controller")
	require.NoError(t, err)
	_, err = store.CreateEvent(EventJournalEntryPosted, map[string]string{"id": "1"}, "controller")
	require.NoError(t, err)
	after := time.Now()

	var seen []string
	err = store.ReplayEvents(before.Add(-time.Second), after.Add(time.Second), func(e *JournalEvent) error {
		seen = append(seen, e.EventType)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{EventJournalEntryDrafted, EventJournalEntryApproved, EventJournalEntryPosted}, seen)
}

func TestEventProcessorDetectsSnapshotMismatchOnPostedEvent(t *testing.T) {
	storage := newTestStorage(t)
	store := NewEventStore(storage)
	processor := NewEventProcessor(storage)

	entry := &JournalEntry{ID: "entry-1", CompanyID: "company-1", Status: StatusDraft}
	require.NoError(t, storage.SaveJournalEntry(entry))

	event, err := store.CreateEvent(EventJournalEntryPosted, JournalEntryPostedPayload{
		JournalEntryID: entry.ID,
		CompanyID:      entry.CompanyID,
		PostedAt:       time.Now(),
	}, "controller")
	require.NoError(t, err)

	err = processor.ProcessEvent(event)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrConsolidationRunFailed))
}

func TestEventProcessorAcceptsMatchingSnapshot(t *testing.T) {
	storage := newTestStorage(t)
	store := NewEventStore(storage)
	processor := NewEventProcessor(storage)

	entry := &JournalEntry{ID: "entry-1", CompanyID: "company-1", Status: StatusPosted}
	require.NoError(t, storage.SaveJournalEntry(entry))

	event, err := store.CreateEvent(EventJournalEntryPosted, JournalEntryPostedPayload{
		JournalEntryID: entry.ID,
		CompanyID:      entry.CompanyID,
		PostedAt:       time.Now(),
	}, "controller")
	require.NoError(t, err)

	assert.NoError(t, processor.ProcessEvent(event))
}
