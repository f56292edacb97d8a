package memory

import (
	"context"
	"sort"
	"sync"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/storage"
)

// EventLogStore is an in-memory implementation of storage.EventLogStore.
type EventLogStore struct {
	mu     sync.RWMutex
	data   []*domain.NormalizedEvent
	sigs   map[string]bool
	nextID int64
}

// NewEventLogStore creates a new in-memory event log store.
func NewEventLogStore() *EventLogStore {
	return &EventLogStore{
		data: make([]*domain.NormalizedEvent, 0),
		sigs: make(map[string]bool),
	}
}

// Verify interface compliance at compile time.
var _ storage.EventLogStore = (*EventLogStore)(nil)

// Append records a normalized event. Re-appending a signature is a no-op
// reported as AlreadyRecorded; the signature check and the insert happen
// under one lock, so concurrent appends of the same signature race safely.
func (s *EventLogStore) Append(_ context.Context, e *domain.NormalizedEvent) (storage.AppendResult, error) {
	if e == nil || e.Signature == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sigs[e.Signature] {
		return storage.AlreadyRecorded, nil
	}

	s.nextID++
	stored := copyEvent(e)
	stored.ID = s.nextID
	e.ID = s.nextID

	s.data = append(s.data, stored)
	s.sigs[e.Signature] = true

	return storage.Recorded, nil
}

// Query retrieves events matching the filter, ordered by observed_at DESC.
func (s *EventLogStore) Query(_ context.Context, f domain.EventFilter) ([]*domain.NormalizedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.NormalizedEvent
	for _, e := range s.data {
		if !matchesFilter(e, f) {
			continue
		}
		result = append(result, copyEvent(e))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ObservedAt != result[j].ObservedAt {
			return result[i].ObservedAt > result[j].ObservedAt
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// ListRange retrieves events with observed_at in [start, end), ordered by
// (observed_at ASC, slot ASC, signature ASC). end <= 0 means no upper bound.
func (s *EventLogStore) ListRange(_ context.Context, start, end int64) ([]*domain.NormalizedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.NormalizedEvent
	for _, e := range s.data {
		if e.ObservedAt < start {
			continue
		}
		if end > 0 && e.ObservedAt >= end {
			continue
		}
		result = append(result, copyEvent(e))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ObservedAt != result[j].ObservedAt {
			return result[i].ObservedAt < result[j].ObservedAt
		}
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		return result[i].Signature < result[j].Signature
	})

	return result, nil
}

// matchesFilter reports whether the event passes all set filter fields.
func matchesFilter(e *domain.NormalizedEvent, f domain.EventFilter) bool {
	if f.User != "" && (e.User == nil || *e.User != f.User) {
		return false
	}
	if f.Pool != "" && (e.Pool == nil || *e.Pool != f.Pool) {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Signature != "" && e.Signature != f.Signature {
		return false
	}
	return true
}

// copyEvent returns a defensive copy including the raw field bag.
func copyEvent(e *domain.NormalizedEvent) *domain.NormalizedEvent {
	c := *e
	if e.Raw != nil {
		c.Raw = make(map[string]any, len(e.Raw))
		for k, v := range e.Raw {
			c.Raw[k] = v
		}
	}
	return &c
}
