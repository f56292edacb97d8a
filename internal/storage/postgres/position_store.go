package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
// Every mutation is a single SQL statement (upsert-add or clamped update),
// so two events racing on the same (user, pool) key serialize inside
// Postgres and neither update is lost.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// AddDeposit increases deposited_amount, creating the position if absent.
// last_updated advances via GREATEST and never regresses.
func (s *PositionStore) AddDeposit(ctx context.Context, user, pool, mint string, amount uint64, observedAt int64) error {
	if user == "" || pool == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO positions (user_address, pool_address, mint, deposited_amount, borrowed_amount, last_updated)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (user_address, pool_address) DO UPDATE SET
			deposited_amount = positions.deposited_amount + EXCLUDED.deposited_amount,
			last_updated = GREATEST(positions.last_updated, EXCLUDED.last_updated)
	`

	if _, err := s.pool.Exec(ctx, query, user, pool, mint, int64(amount), observedAt); err != nil {
		return fmt.Errorf("add deposit: %w", err)
	}
	return nil
}

// SubDeposit decreases deposited_amount, clamped at zero.
// Returns false if no position row exists for the key.
func (s *PositionStore) SubDeposit(ctx context.Context, user, pool string, amount uint64, observedAt int64) (bool, error) {
	if user == "" || pool == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		UPDATE positions SET
			deposited_amount = GREATEST(0, deposited_amount - $3),
			last_updated = GREATEST(last_updated, $4)
		WHERE user_address = $1 AND pool_address = $2
	`

	tag, err := s.pool.Exec(ctx, query, user, pool, int64(amount), observedAt)
	if err != nil {
		return false, fmt.Errorf("sub deposit: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddBorrow increases borrowed_amount, creating the position if absent.
func (s *PositionStore) AddBorrow(ctx context.Context, user, pool, mint string, amount uint64, observedAt int64) error {
	if user == "" || pool == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO positions (user_address, pool_address, mint, deposited_amount, borrowed_amount, last_updated)
		VALUES ($1, $2, $3, 0, $4, $5)
		ON CONFLICT (user_address, pool_address) DO UPDATE SET
			borrowed_amount = positions.borrowed_amount + EXCLUDED.borrowed_amount,
			last_updated = GREATEST(positions.last_updated, EXCLUDED.last_updated)
	`

	if _, err := s.pool.Exec(ctx, query, user, pool, mint, int64(amount), observedAt); err != nil {
		return fmt.Errorf("add borrow: %w", err)
	}
	return nil
}

// SubBorrow decreases borrowed_amount, clamped at zero.
// Returns false if no position row exists for the key.
func (s *PositionStore) SubBorrow(ctx context.Context, user, pool string, amount uint64, observedAt int64) (bool, error) {
	if user == "" || pool == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		UPDATE positions SET
			borrowed_amount = GREATEST(0, borrowed_amount - $3),
			last_updated = GREATEST(last_updated, $4)
		WHERE user_address = $1 AND pool_address = $2
	`

	tag, err := s.pool.Exec(ctx, query, user, pool, int64(amount), observedAt)
	if err != nil {
		return false, fmt.Errorf("sub borrow: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const positionColumns = `user_address, pool_address, mint, deposited_amount, borrowed_amount, last_updated`

// GetByUserAndPool retrieves one position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByUserAndPool(ctx context.Context, user, pool string) (*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE user_address = $1 AND pool_address = $2
	`

	var (
		p                   domain.Position
		deposited, borrowed int64
	)
	err := s.pool.QueryRow(ctx, query, user, pool).Scan(
		&p.User, &p.Pool, &p.Mint, &deposited, &borrowed, &p.LastUpdated,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}

	p.DepositedAmount = uint64(deposited)
	p.BorrowedAmount = uint64(borrowed)
	return &p, nil
}

// ListByUser retrieves all positions of a user, last_updated DESC.
func (s *PositionStore) ListByUser(ctx context.Context, user string) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE user_address = $1
		ORDER BY last_updated DESC, pool_address ASC
	`

	rows, err := s.pool.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("list positions by user: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListByPool retrieves all positions in a pool, last_updated DESC.
func (s *PositionStore) ListByPool(ctx context.Context, pool string) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE pool_address = $1
		ORDER BY last_updated DESC, user_address ASC
	`

	rows, err := s.pool.Query(ctx, query, pool)
	if err != nil {
		return nil, fmt.Errorf("list positions by pool: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListAll retrieves all positions, last_updated DESC.
func (s *PositionStore) ListAll(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		ORDER BY last_updated DESC, user_address ASC, pool_address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// scanPositions scans multiple rows into a slice of Position.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position

	for rows.Next() {
		var (
			p                   domain.Position
			deposited, borrowed int64
		)

		err := rows.Scan(&p.User, &p.Pool, &p.Mint, &deposited, &borrowed, &p.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}

		p.DepositedAmount = uint64(deposited)
		p.BorrowedAmount = uint64(borrowed)
		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}
