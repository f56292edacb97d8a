// Package stub provides an in-memory event source for tests.
package stub

import (
	"context"

	"solana-lending-indexer/internal/domain"
)

// StubEventSource replays a fixed list of raw events. Deliveries can be
// intentionally unordered or duplicated to exercise ordering and
// idempotency. Implements ingestion.Source.
type StubEventSource struct {
	events []*domain.RawEvent
}

// NewStubEventSource creates a new stub source with the given deliveries.
func NewStubEventSource(events []*domain.RawEvent) *StubEventSource {
	return &StubEventSource{events: events}
}

// Subscribe returns a channel that yields every delivery in order, then
// closes. Returns copies to prevent mutation.
func (s *StubEventSource) Subscribe(ctx context.Context) (<-chan *domain.RawEvent, error) {
	ch := make(chan *domain.RawEvent, len(s.events))

	go func() {
		defer close(ch)
		for _, event := range s.events {
			copy := *event
			select {
			case ch <- &copy:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
