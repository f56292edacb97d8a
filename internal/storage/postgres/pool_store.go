package postgres

import (
	"context"
	"fmt"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// CreateIfAbsent inserts the pool if its address is unknown.
// ON CONFLICT DO NOTHING keeps re-delivered creation events idempotent
// without a read-then-write check.
func (s *PoolStore) CreateIfAbsent(ctx context.Context, p *domain.Pool) (bool, error) {
	if p == nil || p.PoolAddress == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pools (pool_address, mint, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (pool_address) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query, p.PoolAddress, p.Mint, p.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert pool: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetByAddress retrieves a pool. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByAddress(ctx context.Context, poolAddress string) (*domain.Pool, error) {
	query := `
		SELECT pool_address, mint, created_at
		FROM pools
		WHERE pool_address = $1
	`

	var p domain.Pool
	err := s.pool.QueryRow(ctx, query, poolAddress).Scan(&p.PoolAddress, &p.Mint, &p.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool by address: %w", err)
	}

	return &p, nil
}

// ListAll retrieves all pools ordered by created_at ASC.
func (s *PoolStore) ListAll(ctx context.Context) ([]*domain.Pool, error) {
	query := `
		SELECT pool_address, mint, created_at
		FROM pools
		ORDER BY created_at ASC, pool_address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []*domain.Pool
	for rows.Next() {
		var p domain.Pool
		if err := rows.Scan(&p.PoolAddress, &p.Mint, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}
		pools = append(pools, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}

	return pools, nil
}
