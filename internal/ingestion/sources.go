package ingestion

import (
	"context"

	"solana-lending-indexer/internal/domain"
)

// Source provides raw event deliveries from an external transport.
type Source interface {
	// Subscribe returns a channel of raw events. Delivery is at-least-once:
	// the same signature may arrive more than once, and events may arrive
	// out of slot order. The channel is closed when the source stops.
	Subscribe(ctx context.Context) (<-chan *domain.RawEvent, error)
}
