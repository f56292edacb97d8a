// Package reconciler applies recorded events to the materialized state:
// the pool registry and the per-(user, pool) positions. It is called
// exactly once per recorded event; the event log's signature gate upstream
// guarantees redeliveries never reach it.
package reconciler

import (
	"context"
	"fmt"
	"log"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/storage"
	"solana-lending-indexer/internal/storage/clickhouse"
)

// ActivitySink receives applied balance deltas for analytics. Satisfied by
// clickhouse.ActivityStore.
type ActivitySink interface {
	InsertBulk(ctx context.Context, rows []*clickhouse.PositionActivity) error
}

// Reconciler folds normalized events into pools and positions.
type Reconciler struct {
	pools     storage.PoolStore
	positions storage.PositionStore
	activity  ActivitySink
	locks     *lockArena
}

// New creates a Reconciler over the given stores.
func New(pools storage.PoolStore, positions storage.PositionStore) *Reconciler {
	return &Reconciler{
		pools:     pools,
		positions: positions,
		locks:     newLockArena(256),
	}
}

// WithActivitySink attaches an analytics sink. Sink failures are logged,
// never propagated: analytics must not block state reconciliation.
func (r *Reconciler) WithActivitySink(sink ActivitySink) *Reconciler {
	r.activity = sink
	return r
}

// Apply folds one event into materialized state. It must only be called
// for events the log reported as newly recorded.
func (r *Reconciler) Apply(ctx context.Context, e *domain.NormalizedEvent) error {
	switch e.Kind {
	case domain.KindPoolCreated:
		return r.applyPoolCreated(ctx, e)
	case domain.KindDeposited:
		return r.applyDeposited(ctx, e)
	case domain.KindWithdrawn:
		return r.applyWithdrawn(ctx, e)
	case domain.KindBorrowed:
		return r.applyBorrowed(ctx, e)
	case domain.KindRepaid:
		return r.applyRepaid(ctx, e)
	case domain.KindLiquidated:
		return r.applyLiquidated(ctx, e)
	case domain.KindUnknown:
		// Logged for audit upstream; no state effect.
		return nil
	default:
		return fmt.Errorf("apply: unhandled event kind %q", e.Kind)
	}
}

func (r *Reconciler) applyPoolCreated(ctx context.Context, e *domain.NormalizedEvent) error {
	created, err := r.pools.CreateIfAbsent(ctx, &domain.Pool{
		PoolAddress: *e.Pool,
		Mint:        *e.Mint,
		CreatedAt:   e.ObservedAt,
	})
	if err != nil {
		return fmt.Errorf("create pool %s: %w", *e.Pool, err)
	}
	if !created {
		log.Printf("[reconciler] pool %s already registered, keeping original record", *e.Pool)
	}
	return nil
}

func (r *Reconciler) applyDeposited(ctx context.Context, e *domain.NormalizedEvent) error {
	unlock := r.locks.lock(*e.User, *e.Pool)
	defer unlock()

	err := r.positions.AddDeposit(ctx, *e.User, *e.Pool, *e.Mint, e.Amount, e.ObservedAt)
	if err != nil {
		return fmt.Errorf("add deposit %s/%s: %w", *e.User, *e.Pool, err)
	}

	r.recordActivity(ctx, e, *e.Pool, int64(e.Amount), 0)
	return nil
}

func (r *Reconciler) applyWithdrawn(ctx context.Context, e *domain.NormalizedEvent) error {
	unlock := r.locks.lock(*e.User, *e.Pool)
	defer unlock()

	applied, err := r.positions.SubDeposit(ctx, *e.User, *e.Pool, e.Amount, e.ObservedAt)
	if err != nil {
		return fmt.Errorf("sub deposit %s/%s: %w", *e.User, *e.Pool, err)
	}
	if !applied {
		log.Printf("[reconciler] withdraw %s on absent position %s/%s, skipping", e.Signature, *e.User, *e.Pool)
		return nil
	}

	r.recordActivity(ctx, e, *e.Pool, -int64(e.Amount), 0)
	return nil
}

func (r *Reconciler) applyBorrowed(ctx context.Context, e *domain.NormalizedEvent) error {
	unlock := r.locks.lock(*e.User, *e.Pool)
	defer unlock()

	err := r.positions.AddBorrow(ctx, *e.User, *e.Pool, *e.Mint, e.Amount, e.ObservedAt)
	if err != nil {
		return fmt.Errorf("add borrow %s/%s: %w", *e.User, *e.Pool, err)
	}

	r.recordActivity(ctx, e, *e.Pool, 0, int64(e.Amount))
	return nil
}

func (r *Reconciler) applyRepaid(ctx context.Context, e *domain.NormalizedEvent) error {
	unlock := r.locks.lock(*e.User, *e.Pool)
	defer unlock()

	applied, err := r.positions.SubBorrow(ctx, *e.User, *e.Pool, e.Amount, e.ObservedAt)
	if err != nil {
		return fmt.Errorf("sub borrow %s/%s: %w", *e.User, *e.Pool, err)
	}
	if !applied {
		log.Printf("[reconciler] repay %s on absent position %s/%s, skipping", e.Signature, *e.User, *e.Pool)
		return nil
	}

	r.recordActivity(ctx, e, *e.Pool, 0, -int64(e.Amount))
	return nil
}

// applyLiquidated performs two independent sub-updates sharing one
// timestamp: reduce the borrower's debt in the debt pool, then reduce the
// borrower's collateral in the collateral pool. A missing position on
// either side skips that side only.
func (r *Reconciler) applyLiquidated(ctx context.Context, e *domain.NormalizedEvent) error {
	borrower := *e.Borrower

	unlock := r.locks.lockPair(borrower, *e.DebtPool, *e.CollateralPool)
	defer unlock()

	debtApplied, err := r.positions.SubBorrow(ctx, borrower, *e.DebtPool, e.DebtRepaid, e.ObservedAt)
	if err != nil {
		return fmt.Errorf("liquidate debt side %s/%s: %w", borrower, *e.DebtPool, err)
	}
	if !debtApplied {
		log.Printf("[reconciler] liquidation %s debt side on absent position %s/%s, skipping", e.Signature, borrower, *e.DebtPool)
	}

	collateralApplied, err := r.positions.SubDeposit(ctx, borrower, *e.CollateralPool, e.CollateralSeized, e.ObservedAt)
	if err != nil {
		return fmt.Errorf("liquidate collateral side %s/%s: %w", borrower, *e.CollateralPool, err)
	}
	if !collateralApplied {
		log.Printf("[reconciler] liquidation %s collateral side on absent position %s/%s, skipping", e.Signature, borrower, *e.CollateralPool)
	}

	var rows []*clickhouse.PositionActivity
	if debtApplied {
		rows = append(rows, activityRow(e, borrower, *e.DebtPool, 0, -int64(e.DebtRepaid)))
	}
	if collateralApplied {
		rows = append(rows, activityRow(e, borrower, *e.CollateralPool, -int64(e.CollateralSeized), 0))
	}
	r.insertActivity(ctx, rows)
	return nil
}

// recordActivity emits one applied delta to the analytics sink.
func (r *Reconciler) recordActivity(ctx context.Context, e *domain.NormalizedEvent, pool string, depositedDelta, borrowedDelta int64) {
	r.insertActivity(ctx, []*clickhouse.PositionActivity{
		activityRow(e, *e.User, pool, depositedDelta, borrowedDelta),
	})
}

func (r *Reconciler) insertActivity(ctx context.Context, rows []*clickhouse.PositionActivity) {
	if r.activity == nil || len(rows) == 0 {
		return
	}
	if err := r.activity.InsertBulk(ctx, rows); err != nil {
		log.Printf("[reconciler] activity sink insert failed: %v", err)
	}
}

func activityRow(e *domain.NormalizedEvent, user, pool string, depositedDelta, borrowedDelta int64) *clickhouse.PositionActivity {
	return &clickhouse.PositionActivity{
		Signature:      e.Signature,
		Kind:           e.Kind.String(),
		User:           user,
		Pool:           pool,
		DepositedDelta: depositedDelta,
		BorrowedDelta:  borrowedDelta,
		Slot:           e.Slot,
		ObservedAt:     e.ObservedAt,
	}
}
