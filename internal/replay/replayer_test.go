package replay

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/reconciler"
	"solana-lending-indexer/internal/storage/memory"
)

func ptr(s string) *string { return &s }

// liveWorld is an event log plus the live state its ingestion produced.
type liveWorld struct {
	eventLog  *memory.EventLogStore
	pools     *memory.PoolStore
	positions *memory.PositionStore
}

// seedWorld appends every event to the log and reconciles it, the same
// two steps the ingestion path performs.
func seedWorld(t *testing.T, events []*domain.NormalizedEvent) *liveWorld {
	t.Helper()

	w := &liveWorld{
		eventLog:  memory.NewEventLogStore(),
		pools:     memory.NewPoolStore(),
		positions: memory.NewPositionStore(),
	}
	rec := reconciler.New(w.pools, w.positions)
	ctx := context.Background()

	for _, e := range events {
		_, err := w.eventLog.Append(ctx, e)
		require.NoError(t, err)
		if e.Kind != domain.KindUnknown {
			require.NoError(t, rec.Apply(ctx, e))
		}
	}
	return w
}

func lendingHistory() []*domain.NormalizedEvent {
	return []*domain.NormalizedEvent{
		{Kind: domain.KindPoolCreated, Pool: ptr("poolA"), Mint: ptr("mintA"), Signature: "e1", Slot: 10, ObservedAt: 1000},
		{Kind: domain.KindDeposited, User: ptr("user1"), Pool: ptr("poolA"), Mint: ptr("mintA"), Amount: 1000, Signature: "e2", Slot: 11, ObservedAt: 1100},
		{Kind: domain.KindBorrowed, User: ptr("user1"), Pool: ptr("poolA"), Mint: ptr("mintA"), Amount: 400, Signature: "e3", Slot: 12, ObservedAt: 1200},
		{Kind: domain.KindWithdrawn, User: ptr("user1"), Pool: ptr("poolA"), Mint: ptr("mintA"), Amount: 300, Signature: "e4", Slot: 13, ObservedAt: 1300},
		{Kind: domain.KindRepaid, User: ptr("user1"), Pool: ptr("poolA"), Mint: ptr("mintA"), Amount: 150, Signature: "e5", Slot: 14, ObservedAt: 1400},
		{Kind: domain.KindUnknown, Signature: "e6", Slot: 15, ObservedAt: 1500},
		{
			Kind: domain.KindLiquidated, User: ptr("user1"), Borrower: ptr("user1"),
			DebtPool: ptr("poolA"), CollateralPool: ptr("poolA"),
			DebtRepaid: 100, CollateralSeized: 200,
			Signature: "e7", Slot: 16, ObservedAt: 1600,
		},
	}
}

func TestRebuild_MatchesLiveState(t *testing.T) {
	w := seedWorld(t, lendingHistory())
	ctx := context.Background()

	r := NewReplayer(w.eventLog, log.New(io.Discard, "", 0))
	state, err := r.Rebuild(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, state.Events)

	pos, err := state.Positions.GetByUserAndPool(ctx, "user1", "poolA")
	require.NoError(t, err)
	// 1000 - 300 - 200 = 500 deposited; 400 - 150 - 100 = 150 borrowed.
	assert.Equal(t, uint64(500), pos.DepositedAmount)
	assert.Equal(t, uint64(150), pos.BorrowedAmount)
	assert.Equal(t, int64(1600), pos.LastUpdated)

	live, err := w.positions.GetByUserAndPool(ctx, "user1", "poolA")
	require.NoError(t, err)
	assert.Equal(t, live.DepositedAmount, pos.DepositedAmount)
	assert.Equal(t, live.BorrowedAmount, pos.BorrowedAmount)
	assert.Equal(t, live.LastUpdated, pos.LastUpdated)

	pool, err := state.Pools.GetByAddress(ctx, "poolA")
	require.NoError(t, err)
	assert.Equal(t, "mintA", pool.Mint)
}

func TestRebuild_TimeWindow(t *testing.T) {
	w := seedWorld(t, lendingHistory())
	ctx := context.Background()

	r := NewReplayer(w.eventLog, log.New(io.Discard, "", 0))

	// [1000, 1300): pool creation, deposit, borrow only.
	state, err := r.Rebuild(ctx, 1000, 1300)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Events)

	pos, err := state.Positions.GetByUserAndPool(ctx, "user1", "poolA")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), pos.DepositedAmount)
	assert.Equal(t, uint64(400), pos.BorrowedAmount)
}

func TestVerifyAll_CleanState(t *testing.T) {
	w := seedWorld(t, lendingHistory())
	ctx := context.Background()

	v := NewVerifier(NewReplayer(w.eventLog, log.New(io.Discard, "", 0)), w.pools, w.positions)
	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)

	assert.True(t, report.Match())
	assert.Equal(t, 7, report.EventsReplayed)
	assert.Equal(t, 1, report.PoolsChecked)
	assert.Equal(t, 1, report.PositionsChecked)
	assert.Empty(t, report.DivergentPools)
	assert.Empty(t, report.DivergentPositions)
}

func TestVerifyAll_TamperedPosition(t *testing.T) {
	w := seedWorld(t, lendingHistory())
	ctx := context.Background()

	// Corrupt the live balance behind the log's back.
	require.NoError(t, w.positions.AddDeposit(ctx, "user1", "poolA", "mintA", 9999, 1600))

	v := NewVerifier(NewReplayer(w.eventLog, log.New(io.Discard, "", 0)), w.pools, w.positions)
	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)

	assert.False(t, report.Match())
	require.Len(t, report.DivergentPositions, 1)

	div := report.DivergentPositions[0]
	assert.Equal(t, "user1", div.User)
	assert.Equal(t, "poolA", div.Pool)
	require.Len(t, div.Divergences, 1)
	assert.Equal(t, "DepositedAmount", div.Divergences[0].Field)
	assert.Equal(t, uint64(500), div.Divergences[0].Expected)
	assert.Equal(t, uint64(10499), div.Divergences[0].Actual)
}

func TestVerifyAll_ExtraLivePosition(t *testing.T) {
	w := seedWorld(t, lendingHistory())
	ctx := context.Background()

	// A live position the log never produced.
	require.NoError(t, w.positions.AddDeposit(ctx, "intruder", "poolZ", "mintZ", 1, 1))

	v := NewVerifier(NewReplayer(w.eventLog, log.New(io.Discard, "", 0)), w.pools, w.positions)
	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)

	assert.False(t, report.Match())
	require.Len(t, report.DivergentPositions, 1)
	assert.Equal(t, "intruder", report.DivergentPositions[0].User)
	assert.Equal(t, "Exists", report.DivergentPositions[0].Divergences[0].Field)
}

func TestVerifyAll_MissingLivePool(t *testing.T) {
	events := lendingHistory()
	w := seedWorld(t, events[1:]) // skip the pool creation on the live side

	// The log still carries the creation event.
	_, err := w.eventLog.Append(context.Background(), events[0])
	require.NoError(t, err)

	v := NewVerifier(NewReplayer(w.eventLog, log.New(io.Discard, "", 0)), w.pools, w.positions)
	report, err := v.VerifyAll(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Match())
	require.Len(t, report.DivergentPools, 1)
	assert.Equal(t, "poolA", report.DivergentPools[0].PoolAddress)
	assert.Equal(t, "Exists", report.DivergentPools[0].Divergences[0].Field)
}
