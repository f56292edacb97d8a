package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedActivity(t *testing.T, store *ActivityStore) {
	t.Helper()

	rows := []*PositionActivity{
		{Signature: "s1", Kind: "DepositEvent", User: "u1", Pool: "poolA", DepositedDelta: 1000, Slot: 10, ObservedAt: 1000},
		{Signature: "s2", Kind: "WithdrawEvent", User: "u1", Pool: "poolA", DepositedDelta: -300, Slot: 11, ObservedAt: 2000},
		{Signature: "s3", Kind: "BorrowEvent", User: "u2", Pool: "poolA", BorrowedDelta: 500, Slot: 12, ObservedAt: 3000},
		{Signature: "s4", Kind: "DepositEvent", User: "u2", Pool: "poolB", DepositedDelta: 42, Slot: 13, ObservedAt: 1500},
	}
	require.NoError(t, store.InsertBulk(context.Background(), rows))
}

func TestActivityStore_InsertAndGetByPoolTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewActivityStore(conn)
	seedActivity(t, store)

	// [1000, 3000) excludes s3 and everything outside poolA.
	got, err := store.GetByPoolTimeRange(context.Background(), "poolA", 1000, 3000)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "s1", got[0].Signature)
	assert.Equal(t, int64(1000), got[0].DepositedDelta)
	assert.Equal(t, int64(10), got[0].Slot)
	assert.Equal(t, "s2", got[1].Signature)
	assert.Equal(t, int64(-300), got[1].DepositedDelta)
}

func TestActivityStore_NetFlowByPool(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewActivityStore(conn)
	seedActivity(t, store)

	deposited, borrowed, err := store.NetFlowByPool(context.Background(), "poolA", 0, 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(700), deposited, "1000 in, 300 out")
	assert.Equal(t, int64(500), borrowed)

	// No rows in range: sums are zero, not an error.
	deposited, borrowed, err = store.NetFlowByPool(context.Background(), "poolA", 50000, 60000)
	require.NoError(t, err)
	assert.Zero(t, deposited)
	assert.Zero(t, borrowed)
}

func TestActivityStore_InsertBulkEmpty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewActivityStore(conn)
	assert.NoError(t, store.InsertBulk(context.Background(), nil))
}
