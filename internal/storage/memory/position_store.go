package memory

import (
	"context"
	"sort"
	"sync"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
// Every delta operation runs under the store lock, so same-key writers
// serialize exactly like a single-statement update in PostgreSQL.
type PositionStore struct {
	mu   sync.RWMutex
	data map[domain.PositionKey]*domain.Position
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[domain.PositionKey]*domain.Position),
	}
}

// Verify interface compliance at compile time.
var _ storage.PositionStore = (*PositionStore)(nil)

// AddDeposit increases deposited_amount, creating the position if absent.
func (s *PositionStore) AddDeposit(_ context.Context, user, pool, mint string, amount uint64, observedAt int64) error {
	if user == "" || pool == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.PositionKey{User: user, Pool: pool}
	pos, ok := s.data[key]
	if !ok {
		s.data[key] = &domain.Position{
			User:            user,
			Pool:            pool,
			Mint:            mint,
			DepositedAmount: amount,
			LastUpdated:     observedAt,
		}
		return nil
	}

	pos.DepositedAmount += amount
	advanceClock(pos, observedAt)
	return nil
}

// SubDeposit decreases deposited_amount, clamped at zero.
// No-op returning false if the position does not exist.
func (s *PositionStore) SubDeposit(_ context.Context, user, pool string, amount uint64, observedAt int64) (bool, error) {
	if user == "" || pool == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.data[domain.PositionKey{User: user, Pool: pool}]
	if !ok {
		return false, nil
	}

	if amount >= pos.DepositedAmount {
		pos.DepositedAmount = 0
	} else {
		pos.DepositedAmount -= amount
	}
	advanceClock(pos, observedAt)
	return true, nil
}

// AddBorrow increases borrowed_amount, creating the position if absent.
func (s *PositionStore) AddBorrow(_ context.Context, user, pool, mint string, amount uint64, observedAt int64) error {
	if user == "" || pool == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.PositionKey{User: user, Pool: pool}
	pos, ok := s.data[key]
	if !ok {
		s.data[key] = &domain.Position{
			User:           user,
			Pool:           pool,
			Mint:           mint,
			BorrowedAmount: amount,
			LastUpdated:    observedAt,
		}
		return nil
	}

	pos.BorrowedAmount += amount
	advanceClock(pos, observedAt)
	return nil
}

// SubBorrow decreases borrowed_amount, clamped at zero.
// No-op returning false if the position does not exist.
func (s *PositionStore) SubBorrow(_ context.Context, user, pool string, amount uint64, observedAt int64) (bool, error) {
	if user == "" || pool == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.data[domain.PositionKey{User: user, Pool: pool}]
	if !ok {
		return false, nil
	}

	if amount >= pos.BorrowedAmount {
		pos.BorrowedAmount = 0
	} else {
		pos.BorrowedAmount -= amount
	}
	advanceClock(pos, observedAt)
	return true, nil
}

// GetByUserAndPool retrieves one position.
func (s *PositionStore) GetByUserAndPool(_ context.Context, user, pool string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.data[domain.PositionKey{User: user, Pool: pool}]
	if !ok {
		return nil, storage.ErrNotFound
	}

	c := *pos
	return &c, nil
}

// ListByUser retrieves all positions of a user, last_updated DESC.
func (s *PositionStore) ListByUser(_ context.Context, user string) ([]*domain.Position, error) {
	return s.list(func(p *domain.Position) bool { return p.User == user }), nil
}

// ListByPool retrieves all positions in a pool, last_updated DESC.
func (s *PositionStore) ListByPool(_ context.Context, pool string) ([]*domain.Position, error) {
	return s.list(func(p *domain.Position) bool { return p.Pool == pool }), nil
}

// ListAll retrieves all positions, last_updated DESC.
func (s *PositionStore) ListAll(_ context.Context) ([]*domain.Position, error) {
	return s.list(func(*domain.Position) bool { return true }), nil
}

// list returns copies of all positions passing the predicate,
// sorted by last_updated DESC with a deterministic key tie-break.
func (s *PositionStore) list(keep func(*domain.Position) bool) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if keep(p) {
			c := *p
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].LastUpdated != result[j].LastUpdated {
			return result[i].LastUpdated > result[j].LastUpdated
		}
		if result[i].User != result[j].User {
			return result[i].User < result[j].User
		}
		return result[i].Pool < result[j].Pool
	})

	return result
}

// advanceClock moves last_updated forward only; an out-of-order event
// never regresses the position clock.
func advanceClock(pos *domain.Position, observedAt int64) {
	if observedAt > pos.LastUpdated {
		pos.LastUpdated = observedAt
	}
}
