package domain

// Pool is a lending pool registered by its creation event.
// Corresponds to the pools table in PostgreSQL. Immutable once created.
type Pool struct {
	PoolAddress string // base58 pool address, primary key
	Mint        string // base58 mint of the underlying token
	CreatedAt   int64  // creation event timestamp, Unix seconds
}
