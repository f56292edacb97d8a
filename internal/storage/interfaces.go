package storage

import (
	"context"

	"solana-lending-indexer/internal/domain"
)

// AppendResult reports the outcome of an event log append.
type AppendResult int

const (
	// Recorded means the event was appended for the first time.
	Recorded AppendResult = iota

	// AlreadyRecorded means the signature was seen before; the append
	// was a benign no-op and the event must not be reconciled again.
	AlreadyRecorded
)

// EventLogStore is the append-only, signature-keyed event log.
// It is the system's sole idempotency gate: uniqueness of the signature
// is enforced by the storage layer, never by a read-then-write check.
type EventLogStore interface {
	// Append records a normalized event. Appending a signature that
	// already exists returns AlreadyRecorded and changes nothing.
	Append(ctx context.Context, e *domain.NormalizedEvent) (AppendResult, error)

	// Query retrieves events matching the filter (fields ANDed, zero
	// values unconstrained), ordered by observed_at DESC.
	Query(ctx context.Context, f domain.EventFilter) ([]*domain.NormalizedEvent, error)

	// ListRange retrieves events with observed_at in [start, end),
	// ordered by (observed_at ASC, slot ASC, signature ASC). Used by
	// replay; pass end <= 0 for an open upper bound.
	ListRange(ctx context.Context, start, end int64) ([]*domain.NormalizedEvent, error)
}

// PoolStore is the registry of known pools. Insert-if-absent only;
// pool identity and mint are immutable once created.
type PoolStore interface {
	// CreateIfAbsent inserts the pool if its address is unknown.
	// Returns true if a row was inserted, false if it already existed.
	CreateIfAbsent(ctx context.Context, p *domain.Pool) (bool, error)

	// GetByAddress retrieves a pool. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, poolAddress string) (*domain.Pool, error)

	// ListAll retrieves all pools ordered by created_at ASC.
	ListAll(ctx context.Context) ([]*domain.Pool, error)
}

// PositionStore holds the materialized per-(user,pool) balances.
// All mutations are atomic delta operations so concurrent writers on the
// same key can never lose an update; implementations must clamp balances
// at zero and keep last_updated monotonically non-decreasing.
type PositionStore interface {
	// AddDeposit increases deposited_amount, creating the position with
	// the given mint if absent.
	AddDeposit(ctx context.Context, user, pool, mint string, amount uint64, observedAt int64) error

	// SubDeposit decreases deposited_amount, clamped at zero. Returns
	// false without error if the position does not exist.
	SubDeposit(ctx context.Context, user, pool string, amount uint64, observedAt int64) (bool, error)

	// AddBorrow increases borrowed_amount, creating the position with
	// the given mint if absent.
	AddBorrow(ctx context.Context, user, pool, mint string, amount uint64, observedAt int64) error

	// SubBorrow decreases borrowed_amount, clamped at zero. Returns
	// false without error if the position does not exist.
	SubBorrow(ctx context.Context, user, pool string, amount uint64, observedAt int64) (bool, error)

	// GetByUserAndPool retrieves one position. Returns ErrNotFound if
	// not exists.
	GetByUserAndPool(ctx context.Context, user, pool string) (*domain.Position, error)

	// ListByUser retrieves all positions of a user, last_updated DESC.
	ListByUser(ctx context.Context, user string) ([]*domain.Position, error)

	// ListByPool retrieves all positions in a pool, last_updated DESC.
	ListByPool(ctx context.Context, pool string) ([]*domain.Position, error)

	// ListAll retrieves all positions, last_updated DESC.
	ListAll(ctx context.Context) ([]*domain.Position, error)
}
