package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-lending-indexer/internal/storage"
)

func TestPositionStore_UpsertAdd(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.AddDeposit(ctx, "user1", "pool1", "mint1", 500, 1000))
	require.NoError(t, store.AddDeposit(ctx, "user1", "pool1", "mint1", 250, 2000))
	require.NoError(t, store.AddBorrow(ctx, "user1", "pool1", "mint1", 100, 3000))

	pos, err := store.GetByUserAndPool(ctx, "user1", "pool1")
	require.NoError(t, err)
	assert.Equal(t, uint64(750), pos.DepositedAmount)
	assert.Equal(t, uint64(100), pos.BorrowedAmount)
	assert.Equal(t, "mint1", pos.Mint)
	assert.Equal(t, int64(3000), pos.LastUpdated)
}

func TestPositionStore_ClampAtZero(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.AddBorrow(ctx, "user1", "pool1", "mint1", 200, 1000))

	// Over-repay clamps via GREATEST instead of violating the CHECK.
	applied, err := store.SubBorrow(ctx, "user1", "pool1", 500, 2000)
	require.NoError(t, err)
	assert.True(t, applied)

	pos, err := store.GetByUserAndPool(ctx, "user1", "pool1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pos.BorrowedAmount)
	assert.Equal(t, int64(2000), pos.LastUpdated)
}

func TestPositionStore_SubOnAbsentPosition(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	applied, err := store.SubDeposit(ctx, "ghost", "pool1", 100, 1000)
	require.NoError(t, err)
	assert.False(t, applied, "no row, no update")

	_, err = store.GetByUserAndPool(ctx, "ghost", "pool1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "the no-op must not create a row")
}

func TestPositionStore_LastUpdatedNeverRegresses(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.AddDeposit(ctx, "user1", "pool1", "mint1", 100, 5000))

	// A late delivery with an older timestamp still applies its delta.
	require.NoError(t, store.AddDeposit(ctx, "user1", "pool1", "mint1", 100, 3000))

	applied, err := store.SubDeposit(ctx, "user1", "pool1", 50, 2000)
	require.NoError(t, err)
	assert.True(t, applied)

	pos, err := store.GetByUserAndPool(ctx, "user1", "pool1")
	require.NoError(t, err)
	assert.Equal(t, uint64(150), pos.DepositedAmount)
	assert.Equal(t, int64(5000), pos.LastUpdated, "last_updated must be monotonic")
}

func TestPositionStore_ConcurrentAddsOnSameKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	var wg sync.WaitGroup
	numGoroutines := 20

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.AddDeposit(ctx, "user1", "pool1", "mint1", 10, int64(1000+i)); err != nil {
				t.Errorf("AddDeposit failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	pos, err := store.GetByUserAndPool(ctx, "user1", "pool1")
	require.NoError(t, err)
	assert.Equal(t, uint64(numGoroutines)*10, pos.DepositedAmount, "single-statement upserts must not lose updates")
}

func TestPositionStore_Listings(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	seed := []struct {
		user, pool string
		observedAt int64
	}{
		{"user1", "poolA", 1000},
		{"user1", "poolB", 3000},
		{"user2", "poolA", 2000},
	}
	for _, s := range seed {
		require.NoError(t, store.AddDeposit(ctx, s.user, s.pool, "mint", 100, s.observedAt))
	}

	byUser, err := store.ListByUser(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "poolB", byUser[0].Pool, "last_updated DESC")
	assert.Equal(t, "poolA", byUser[1].Pool)

	byPool, err := store.ListByPool(ctx, "poolA")
	require.NoError(t, err)
	assert.Len(t, byPool, 2)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPositionStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	err := store.AddDeposit(ctx, "", "pool1", "mint1", 100, 1000)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.SubBorrow(ctx, "user1", "", 100, 1000)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
