package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/storage"
)

func depositEvent(sig string, slot, observedAt int64) *domain.NormalizedEvent {
	user := "UserAddr1"
	pool := "PoolAddr1"
	mint := "MintAddr1"
	return &domain.NormalizedEvent{
		Kind:       domain.KindDeposited,
		User:       &user,
		Pool:       &pool,
		Mint:       &mint,
		Signature:  sig,
		Slot:       slot,
		ObservedAt: observedAt,
		Amount:     100,
		Raw:        map[string]any{"deposit_amount": uint64(100)},
	}
}

func TestEventLogStore_AppendAndQuery(t *testing.T) {
	store := NewEventLogStore()
	ctx := context.Background()

	e := depositEvent("sig1", 100, 1000)

	result, err := store.Append(ctx, e)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if result != storage.Recorded {
		t.Errorf("Expected Recorded, got %v", result)
	}
	if e.ID == 0 {
		t.Error("Append should assign an ID")
	}

	got, err := store.Query(ctx, domain.EventFilter{Signature: "sig1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].Signature != "sig1" {
		t.Errorf("Signature mismatch: got %s", got[0].Signature)
	}
	if got[0].Amount != 100 {
		t.Errorf("Amount mismatch: got %d", got[0].Amount)
	}
}

func TestEventLogStore_AppendDuplicateSignature(t *testing.T) {
	store := NewEventLogStore()
	ctx := context.Background()

	first := depositEvent("sig1", 100, 1000)
	result, err := store.Append(ctx, first)
	if err != nil {
		t.Fatalf("First append failed: %v", err)
	}
	if result != storage.Recorded {
		t.Errorf("Expected Recorded, got %v", result)
	}

	// Redelivery with a different payload: must change nothing.
	second := depositEvent("sig1", 100, 1000)
	second.Amount = 999
	result, err = store.Append(ctx, second)
	if err != nil {
		t.Fatalf("Second append failed: %v", err)
	}
	if result != storage.AlreadyRecorded {
		t.Errorf("Expected AlreadyRecorded, got %v", result)
	}

	got, err := store.Query(ctx, domain.EventFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 event after redelivery, got %d", len(got))
	}
	if got[0].Amount != 100 {
		t.Errorf("Original record was overwritten: amount=%d", got[0].Amount)
	}
}

func TestEventLogStore_ConcurrentSameSignature(t *testing.T) {
	store := NewEventLogStore()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		recorded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := store.Append(ctx, depositEvent("race-sig", 100, 1000))
			if err != nil {
				t.Errorf("Append failed: %v", err)
				return
			}
			if result == storage.Recorded {
				mu.Lock()
				recorded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if recorded != 1 {
		t.Errorf("Expected exactly 1 Recorded result, got %d", recorded)
	}
}

func TestEventLogStore_QueryFilters(t *testing.T) {
	store := NewEventLogStore()
	ctx := context.Background()

	userA, userB := "UserA", "UserB"
	poolX, poolY := "PoolX", "PoolY"

	events := []*domain.NormalizedEvent{
		{Kind: domain.KindDeposited, User: &userA, Pool: &poolX, Signature: "s1", ObservedAt: 1000},
		{Kind: domain.KindBorrowed, User: &userA, Pool: &poolY, Signature: "s2", ObservedAt: 2000},
		{Kind: domain.KindDeposited, User: &userB, Pool: &poolX, Signature: "s3", ObservedAt: 3000},
	}
	for _, e := range events {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	byUser, err := store.Query(ctx, domain.EventFilter{User: userA})
	if err != nil {
		t.Fatalf("Query by user failed: %v", err)
	}
	if len(byUser) != 2 {
		t.Errorf("Expected 2 events for UserA, got %d", len(byUser))
	}

	byKind, err := store.Query(ctx, domain.EventFilter{Kind: domain.KindDeposited})
	if err != nil {
		t.Fatalf("Query by kind failed: %v", err)
	}
	if len(byKind) != 2 {
		t.Errorf("Expected 2 deposit events, got %d", len(byKind))
	}

	combined, err := store.Query(ctx, domain.EventFilter{User: userA, Pool: poolX})
	if err != nil {
		t.Fatalf("Combined query failed: %v", err)
	}
	if len(combined) != 1 || combined[0].Signature != "s1" {
		t.Errorf("Expected only s1 for UserA/PoolX, got %d events", len(combined))
	}
}

func TestEventLogStore_QueryOrderDesc(t *testing.T) {
	store := NewEventLogStore()
	ctx := context.Background()

	for _, e := range []*domain.NormalizedEvent{
		{Kind: domain.KindDeposited, Signature: "old", ObservedAt: 1000},
		{Kind: domain.KindDeposited, Signature: "new", ObservedAt: 3000},
		{Kind: domain.KindDeposited, Signature: "mid", ObservedAt: 2000},
	} {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.Query(ctx, domain.EventFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	if got[0].Signature != "new" || got[1].Signature != "mid" || got[2].Signature != "old" {
		t.Errorf("Wrong order: %s, %s, %s", got[0].Signature, got[1].Signature, got[2].Signature)
	}
}

func TestEventLogStore_ListRange(t *testing.T) {
	store := NewEventLogStore()
	ctx := context.Background()

	for _, e := range []*domain.NormalizedEvent{
		{Kind: domain.KindDeposited, Signature: "b", Slot: 5, ObservedAt: 2000},
		{Kind: domain.KindDeposited, Signature: "a", Slot: 5, ObservedAt: 2000},
		{Kind: domain.KindDeposited, Signature: "c", Slot: 3, ObservedAt: 1000},
		{Kind: domain.KindDeposited, Signature: "d", Slot: 9, ObservedAt: 3000},
	} {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// [1000, 3000) excludes observed_at=3000.
	got, err := store.ListRange(ctx, 1000, 3000)
	if err != nil {
		t.Fatalf("ListRange failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	// Canonical order: observed_at ASC, then slot, then signature.
	if got[0].Signature != "c" || got[1].Signature != "a" || got[2].Signature != "b" {
		t.Errorf("Wrong order: %s, %s, %s", got[0].Signature, got[1].Signature, got[2].Signature)
	}

	// Open upper bound.
	all, err := store.ListRange(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListRange open failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected 4 events with open bound, got %d", len(all))
	}
}

func TestEventLogStore_InvalidInput(t *testing.T) {
	store := NewEventLogStore()
	ctx := context.Background()

	_, err := store.Append(ctx, nil)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}

	_, err = store.Append(ctx, &domain.NormalizedEvent{Kind: domain.KindDeposited})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty signature, got %v", err)
	}
}
