package accounting

// Append-only audit trail. Every state-changing operation in the engine
// records an AuditEvent; writes are buffered through a bounded channel and
// flushed with retry/backoff so a transient storage hiccup does not drop
// an audit record or block the caller that triggered it.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AuditEvent is one append-only audit trail record.
type AuditEvent struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	EntityID   string    `json:"entity_id"`
	UserID     string    `json:"user_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AuditSink buffers audit events and writes them to storage, retrying
// transient failures instead of surfacing them to the caller that
// triggered the underlying domain operation.
type AuditSink struct {
	storage *Storage
	events  chan AuditEvent
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	lastErr error
}

// NewAuditSink starts a background writer with the given buffer depth.
// Call Close to drain the buffer and stop the writer.
func NewAuditSink(storage *Storage, bufferSize int) *AuditSink {
	s := &AuditSink{
		storage: storage,
		events:  make(chan AuditEvent, bufferSize),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Record enqueues an event for durable, retried persistence. If the
// buffer is full the event is dropped, with no error returned and nothing
// logged, rather than blocking the caller's transaction -
// audit writes are best-effort relative to the ledger operation they
// describe, never the other way around.
func (s *AuditSink) Record(event AuditEvent) {
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now()
	}
	select {
	case s.events <- event:
	default:
		// Buffer full: drop rather than block the caller. A production
		// deployment would increment a metric here.
	}
}

func (s *AuditSink) run() {
	defer s.wg.Done()
	for {
		select {
		case event := <-s.events:
			s.writeWithRetry(event)
		case <-s.done:
			// drain remaining buffered events before exiting
			for {
				select {
				case event := <-s.events:
					s.writeWithRetry(event)
				default:
					return
				}
			}
		}
	}
}

func (s *AuditSink) writeWithRetry(event AuditEvent) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), context.Background())
	err := backoff.Retry(func() error {
		return s.storage.AppendAuditEvent(event)
	}, policy)
	if err != nil {
		s.mu.Lock()
		s.lastErr = newAuditLogError(err)
		s.mu.Unlock()
	}
}

// LastWriteError returns the most recent failure to persist an audit
// event after retries were exhausted, or nil if every write since the
// sink started (or since the last call to LastWriteError) has succeeded.
// Audit writes stay best-effort relative to the ledger operation they
// describe; this is how a caller who cares can still notice the sink
// has started losing events.
func (s *AuditSink) LastWriteError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastErr
	s.lastErr = nil
	return err
}

// Close stops the background writer after flushing buffered events.
func (s *AuditSink) Close() error {
	close(s.done)
	s.wg.Wait()
	return nil
}

// newAuditLogError wraps a persistent audit-write failure after retries are
// exhausted, distinct from the silent best-effort drop in Record.
func newAuditLogError(cause error) *DomainError {
	return newDomainErr(ErrAuditLog, "failed to persist audit event after retries", fmt.Sprint(cause))
}
