package clickhouse

import (
	"context"
	"fmt"
)

// PositionActivity is one applied balance delta, recorded after the
// reconciler updates a position. Rows are analytics-only: events reaching
// this table have already passed the Postgres idempotency gate, so the
// MergeTree's lack of uniqueness enforcement is acceptable here.
type PositionActivity struct {
	Signature      string // transaction signature of the applied event
	Kind           string // event kind
	User           string // base58 user address
	Pool           string // base58 pool address
	DepositedDelta int64  // signed change to deposited_amount
	BorrowedDelta  int64  // signed change to borrowed_amount
	Slot           int64  // Solana slot number
	ObservedAt     int64  // event timestamp, Unix seconds
}

// ActivityStore records applied position deltas in ClickHouse for
// dashboard-style per-pool flow queries.
type ActivityStore struct {
	conn *Conn
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(conn *Conn) *ActivityStore {
	return &ActivityStore{conn: conn}
}

// InsertBulk appends activity rows in a single batch.
func (s *ActivityStore) InsertBulk(ctx context.Context, rows []*PositionActivity) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO position_activity (
			signature, kind, user, pool, deposited_delta, borrowed_delta, slot, observed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		err = batch.Append(
			r.Signature, r.Kind, r.User, r.Pool,
			r.DepositedDelta, r.BorrowedDelta,
			uint64(r.Slot), r.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPoolTimeRange retrieves activity for a pool within [start, end),
// ordered by observed_at ASC.
func (s *ActivityStore) GetByPoolTimeRange(ctx context.Context, pool string, start, end int64) ([]*PositionActivity, error) {
	query := `
		SELECT signature, kind, user, pool, deposited_delta, borrowed_delta, slot, observed_at
		FROM position_activity
		WHERE pool = ? AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at ASC, slot ASC, signature ASC
	`

	rows, err := s.conn.Query(ctx, query, pool, start, end)
	if err != nil {
		return nil, fmt.Errorf("query activity by pool/time range: %w", err)
	}
	defer rows.Close()

	var result []*PositionActivity
	for rows.Next() {
		var (
			a    PositionActivity
			slot uint64
		)
		err := rows.Scan(
			&a.Signature, &a.Kind, &a.User, &a.Pool,
			&a.DepositedDelta, &a.BorrowedDelta, &slot, &a.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		a.Slot = int64(slot)
		result = append(result, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}

	return result, nil
}

// NetFlowByPool aggregates signed deposit/borrow flow for a pool within
// [start, end).
func (s *ActivityStore) NetFlowByPool(ctx context.Context, pool string, start, end int64) (depositedDelta, borrowedDelta int64, err error) {
	query := `
		SELECT sum(deposited_delta), sum(borrowed_delta)
		FROM position_activity
		WHERE pool = ? AND observed_at >= ? AND observed_at < ?
	`

	err = s.conn.QueryRow(ctx, query, pool, start, end).Scan(&depositedDelta, &borrowedDelta)
	if err != nil {
		return 0, 0, fmt.Errorf("net flow by pool: %w", err)
	}
	return depositedDelta, borrowedDelta, nil
}
