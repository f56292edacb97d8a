package domain

// Position is the materialized per-user-per-pool balance aggregate derived
// from the event log. Corresponds to the positions table in PostgreSQL.
// Created lazily on the first deposit or borrow; never deleted (zeroed
// balances are a valid state).
type Position struct {
	User            string // base58 user address, part of primary key
	Pool            string // base58 pool address, part of primary key
	Mint            string // base58 mint of the underlying token
	DepositedAmount uint64 // raw token units, never negative
	BorrowedAmount  uint64 // raw token units, never negative
	LastUpdated     int64  // Unix seconds, monotonically non-decreasing
}

// PositionKey is the compound key identifying a position.
type PositionKey struct {
	User string
	Pool string
}

// Key returns the compound key of the position.
func (p *Position) Key() PositionKey {
	return PositionKey{User: p.User, Pool: p.Pool}
}
