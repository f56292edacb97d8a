package ingestion

import (
	"context"
	"log"

	"solana-lending-indexer/internal/anchor"
	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/solana"
)

// WSEventSource provides real-time lending events via WebSocket logs
// subscription. Each notification's log lines are decoded into zero or
// more raw events sharing the transaction's signature and slot.
type WSEventSource struct {
	ws       solana.WSClient
	decoder  *anchor.Decoder
	programs []string
}

// NewWSEventSource creates a new WebSocket-based event source.
func NewWSEventSource(ws solana.WSClient, programs []string) *WSEventSource {
	return &WSEventSource{
		ws:       ws,
		decoder:  anchor.NewDecoder(),
		programs: programs,
	}
}

// Subscribe returns a channel of raw events from live WebSocket
// subscription. The channel is closed when the context is cancelled or
// the subscription ends.
func (s *WSEventSource) Subscribe(ctx context.Context) (<-chan *domain.RawEvent, error) {
	// Subscribe to logs for each program separately (some providers only
	// support one address per subscription).
	var logsChannels []<-chan solana.LogNotification
	for _, program := range s.programs {
		logsCh, err := s.ws.SubscribeLogs(ctx, solana.LogsFilter{
			Mentions: []string{program},
		})
		if err != nil {
			return nil, err
		}
		logsChannels = append(logsChannels, logsCh)
		log.Printf("[ws-events] Subscribed to program: %s", program)
	}

	eventsCh := make(chan *domain.RawEvent, 100)

	go func() {
		defer close(eventsCh)

		// Merge channels
		merged := make(chan solana.LogNotification, 1000)
		for _, ch := range logsChannels {
			go func(logsCh <-chan solana.LogNotification) {
				for notif := range logsCh {
					select {
					case merged <- notif:
					case <-ctx.Done():
						return
					}
				}
			}(ch)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case notif, ok := <-merged:
				if !ok {
					log.Println("[ws-events] merged channel closed")
					return
				}
				s.processNotification(ctx, eventsCh, notif)
			}
		}
	}()

	return eventsCh, nil
}

// processNotification decodes one log notification into raw events.
func (s *WSEventSource) processNotification(ctx context.Context, eventsCh chan<- *domain.RawEvent, notif solana.LogNotification) {
	// Skip failed transactions: their events never took effect on chain.
	if notif.Err != nil {
		return
	}

	decoded := s.decoder.DecodeLogs(notif.Logs)
	if len(decoded) == 0 {
		return
	}

	log.Printf("[ws-events] Decoded %d events from tx %s (slot=%d)", len(decoded), notif.Signature, notif.Slot)

	for _, de := range decoded {
		event := &domain.RawEvent{
			Kind:      de.Name,
			Fields:    de.Fields,
			Signature: notif.Signature,
			Slot:      notif.Slot,
		}

		select {
		case eventsCh <- event:
		case <-ctx.Done():
			return
		}
	}
}
