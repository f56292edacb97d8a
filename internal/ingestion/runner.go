package ingestion

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/normalizer"
	"solana-lending-indexer/internal/observability"
	"solana-lending-indexer/internal/reconciler"
	"solana-lending-indexer/internal/storage"
)

const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
)

// Runner orchestrates continuous ingestion: buffer deliveries by slot for
// deterministic ordering, normalize, append to the event log, and
// reconcile each newly recorded event into materialized state.
type Runner struct {
	source        Source
	normalizer    *normalizer.Normalizer
	eventLog      storage.EventLogStore
	reconciler    *reconciler.Reconciler
	slotLagWindow int64         // Number of slots to buffer for ordering
	flushInterval time.Duration // Interval for periodic buffer flush
	logger        *log.Logger

	// Slot-based buffer for deterministic ordering.
	// Events are grouped by slot and processed when the slot is finalized.
	buffer      map[int64][]*domain.RawEvent
	highestSlot int64
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source        Source
	Normalizer    *normalizer.Normalizer
	EventLog      storage.EventLogStore
	Reconciler    *reconciler.Reconciler
	SlotLagWindow int64         // Default: 5 slots - wait this many slots before processing
	FlushInterval time.Duration // Default: 5s - force flush buffered events periodically
	Logger        *log.Logger
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	slotLagWindow := opts.SlotLagWindow
	if slotLagWindow == 0 {
		slotLagWindow = 5 // Wait 5 slots (~2 seconds) for ordering
	}

	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		source:        opts.Source,
		normalizer:    opts.Normalizer,
		eventLog:      opts.EventLog,
		reconciler:    opts.Reconciler,
		slotLagWindow: slotLagWindow,
		flushInterval: flushInterval,
		logger:        logger,
		buffer:        make(map[int64][]*domain.RawEvent),
	}
}

// Run starts continuous ingestion. It blocks until the context is
// cancelled, draining the ordering buffer before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Println("Starting ingestion runner...")

	eventsCh, err := r.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	// Periodic flush ticker so buffered events are processed even if no
	// new higher slots arrive.
	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	r.logger.Printf("Runner started, slot lag window: %d, flush interval: %v", r.slotLagWindow, r.flushInterval)

	for {
		select {
		case <-ctx.Done():
			// Flush all remaining events before shutdown.
			r.flushAllSlots(context.WithoutCancel(ctx))
			r.logger.Println("Runner stopping...")
			return ctx.Err()

		case event, ok := <-eventsCh:
			if !ok {
				r.flushAllSlots(ctx)
				r.logger.Println("Event channel closed")
				return errors.New("event channel closed")
			}
			r.bufferEvent(ctx, event)

		case <-flushTicker.C:
			// Periodic flush: process finalized slots only, so the lag
			// window keeps protecting slot ordering. flushAllSlots is
			// reserved for shutdown when ordering no longer matters.
			r.processFinalizedSlots(ctx)
		}
	}
}

// bufferEvent adds an event to the slot buffer and processes finalized slots.
func (r *Runner) bufferEvent(ctx context.Context, event *domain.RawEvent) {
	observability.RecordReceived(event.Kind)

	slot := event.Slot
	r.buffer[slot] = append(r.buffer[slot], event)

	if slot > r.highestSlot {
		r.highestSlot = slot
		observability.UpdateHighestSlot(slot)
		r.processFinalizedSlots(ctx)
	} else if slot <= r.highestSlot-r.slotLagWindow {
		// Late event for an already-finalized slot: process immediately.
		r.processSlot(ctx, slot)
	}

	observability.UpdateBufferSize(len(r.buffer))
}

// processFinalizedSlots processes all slots behind the lag window, in order.
func (r *Runner) processFinalizedSlots(ctx context.Context) {
	finalizedSlot := r.highestSlot - r.slotLagWindow
	if finalizedSlot < 0 {
		return
	}

	var slots []int64
	for slot := range r.buffer {
		if slot <= finalizedSlot {
			slots = append(slots, slot)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	for _, slot := range slots {
		r.processSlot(ctx, slot)
	}

	observability.UpdateBufferSize(len(r.buffer))
}

// processSlot processes all events of one slot with deterministic ordering.
func (r *Runner) processSlot(ctx context.Context, slot int64) {
	events, ok := r.buffer[slot]
	if !ok || len(events) == 0 {
		return
	}

	// Sort by signature within the slot so replays of the same deliveries
	// always apply in the same order.
	sort.Slice(events, func(i, j int) bool {
		return events[i].Signature < events[j].Signature
	})

	for _, event := range events {
		r.handleEvent(ctx, event)
	}
	delete(r.buffer, slot)
}

// flushAllSlots processes all remaining buffered events on shutdown.
func (r *Runner) flushAllSlots(ctx context.Context) {
	var slots []int64
	for slot := range r.buffer {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	for _, slot := range slots {
		r.processSlot(ctx, slot)
	}
}

// handleEvent runs one delivery through normalize, append, reconcile.
// A redelivered signature stops at the append: the log reports it as
// already recorded and the reconciler never sees it again.
func (r *Runner) handleEvent(ctx context.Context, raw *domain.RawEvent) {
	started := time.Now()

	event, err := r.normalizer.Normalize(raw)
	if err != nil {
		var nerr *normalizer.NormalizationError
		if errors.As(err, &nerr) {
			observability.RecordNormalizationError(nerr.Kind)
		} else {
			observability.RecordNormalizationError("unknown")
		}
		r.logger.Printf("Malformed event skipped: %v", err)
		return
	}

	var result storage.AppendResult
	err = r.withRetry(ctx, "append "+event.Signature, func() error {
		var appendErr error
		result, appendErr = r.eventLog.Append(ctx, event)
		return appendErr
	})
	if err != nil {
		observability.RecordDeadLetter()
		r.logger.Printf("DEAD-LETTER: append %s failed after %d attempts: %v", event.Signature, maxRetries, err)
		return
	}

	if result == storage.AlreadyRecorded {
		observability.RecordDuplicate()
		r.logger.Printf("Duplicate delivery ignored: %s", event.Signature)
		return
	}
	observability.RecordRecorded(event.Kind.String())

	err = r.withRetry(ctx, "reconcile "+event.Signature, func() error {
		return r.reconciler.Apply(ctx, event)
	})
	if err != nil {
		// The event stays in the log; replay can re-derive the position.
		observability.RecordDeadLetter()
		r.logger.Printf("DEAD-LETTER: reconcile %s failed after %d attempts: %v", event.Signature, maxRetries, err)
		return
	}

	observability.RecordReconciled(event.Kind.String())
	observability.RecordProcessingLatency(event.Kind.String(), time.Since(started).Seconds())
	observability.MarkIngestionSuccess(time.Now().Unix())
}

// withRetry runs fn with exponential backoff.
func (r *Runner) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Exponential backoff: 500ms, 1s, 2s
		delay := baseRetryDelay * time.Duration(1<<attempt)
		observability.RecordReconcileRetry()
		r.logger.Printf("Retry %d/%d for %s after %v: %v", attempt+1, maxRetries, op, delay, lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
