package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation used for tests and
// development. Thread-safe via RWMutex.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*AuditEvent
	// Insertion order; appended on Record so queries can walk newest first.
	order []string

	// now is injectable for tests.
	now func() time.Time
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*AuditEvent),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Test use only.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.now = now
}

// Record appends an event to the log.
func (s *MemoryStore) Record(ctx context.Context, entry Entry) (*AuditEvent, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(entry.Metadata))
	for k, v := range entry.Metadata {
		meta[k] = v
	}

	ev := &AuditEvent{
		ID:           uuid.New().String(),
		ActorID:      optional(entry.ActorID),
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   optional(entry.ResourceID),
		Metadata:     meta,
		OccurredAt:   s.now(),
	}

	s.mu.Lock()
	s.events[ev.ID] = ev
	s.order = append(s.order, ev.ID)
	s.mu.Unlock()

	evCopy := *ev
	return &evCopy, nil
}

// Query returns matching events, newest first.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]*AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*AuditEvent
	skipped := 0
	for i := len(s.order) - 1; i >= 0; i-- {
		ev := s.events[s.order[i]]
		if !filter.Matches(ev) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		evCopy := *ev
		results = append(results, &evCopy)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

// DeleteBefore removes events older than cutoff.
func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.order[:0]
	for _, id := range s.order {
		if s.events[id].OccurredAt.Before(cutoff) {
			delete(s.events, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return deleted, nil
}
