package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/storage"
)

// EventLogStore implements storage.EventLogStore using PostgreSQL.
// The UNIQUE constraint on events.signature is the idempotency gate.
type EventLogStore struct {
	pool *Pool
}

// NewEventLogStore creates a new EventLogStore.
func NewEventLogStore(pool *Pool) *EventLogStore {
	return &EventLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventLogStore = (*EventLogStore)(nil)

const eventColumns = `id, kind, user_address, pool_address, mint, signature, slot, observed_at,
		amount, borrower, debt_pool, collateral_pool, debt_repaid, collateral_seized, raw`

// Append records a normalized event. A unique violation on signature is
// reported as AlreadyRecorded, never as an error.
func (s *EventLogStore) Append(ctx context.Context, e *domain.NormalizedEvent) (storage.AppendResult, error) {
	if e == nil || e.Signature == "" {
		return 0, storage.ErrInvalidInput
	}

	raw, err := json.Marshal(e.Raw)
	if err != nil {
		return 0, fmt.Errorf("marshal raw event payload: %w", err)
	}

	query := `
		INSERT INTO events (
			kind, user_address, pool_address, mint, signature, slot, observed_at,
			amount, borrower, debt_pool, collateral_pool, debt_repaid, collateral_seized, raw
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	err = s.pool.QueryRow(ctx, query,
		string(e.Kind),
		e.User,
		e.Pool,
		e.Mint,
		e.Signature,
		e.Slot,
		e.ObservedAt,
		int64(e.Amount),
		e.Borrower,
		e.DebtPool,
		e.CollateralPool,
		int64(e.DebtRepaid),
		int64(e.CollateralSeized),
		raw,
	).Scan(&e.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.AlreadyRecorded, nil
		}
		return 0, fmt.Errorf("append event: %w", err)
	}

	return storage.Recorded, nil
}

// Query retrieves events matching the filter, ordered by observed_at DESC.
func (s *EventLogStore) Query(ctx context.Context, f domain.EventFilter) ([]*domain.NormalizedEvent, error) {
	var (
		conds []string
		args  []any
	)

	addCond := func(column, value string) {
		args = append(args, value)
		conds = append(conds, column+" = $"+strconv.Itoa(len(args)))
	}

	if f.User != "" {
		addCond("user_address", f.User)
	}
	if f.Pool != "" {
		addCond("pool_address", f.Pool)
	}
	if f.Kind != "" {
		addCond("kind", string(f.Kind))
	}
	if f.Signature != "" {
		addCond("signature", f.Signature)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY observed_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRange retrieves events with observed_at in [start, end), ordered by
// (observed_at ASC, slot ASC, signature ASC). end <= 0 means open-ended.
func (s *EventLogStore) ListRange(ctx context.Context, start, end int64) ([]*domain.NormalizedEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE observed_at >= $1 AND ($2 <= 0 OR observed_at < $2)
		ORDER BY observed_at ASC, slot ASC, signature ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("list events by range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents scans multiple rows into a slice of NormalizedEvent.
func scanEvents(rows pgx.Rows) ([]*domain.NormalizedEvent, error) {
	var events []*domain.NormalizedEvent

	for rows.Next() {
		var (
			e                              domain.NormalizedEvent
			kind                           string
			amount, debtRepaid, collSeized int64
			raw                            []byte
		)

		err := rows.Scan(
			&e.ID,
			&kind,
			&e.User,
			&e.Pool,
			&e.Mint,
			&e.Signature,
			&e.Slot,
			&e.ObservedAt,
			&amount,
			&e.Borrower,
			&e.DebtPool,
			&e.CollateralPool,
			&debtRepaid,
			&collSeized,
			&raw,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		e.Kind = domain.EventKind(kind)
		e.Amount = uint64(amount)
		e.DebtRepaid = uint64(debtRepaid)
		e.CollateralSeized = uint64(collSeized)

		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Raw); err != nil {
				return nil, fmt.Errorf("unmarshal raw event payload: %w", err)
			}
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}
