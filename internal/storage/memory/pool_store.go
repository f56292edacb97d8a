package memory

import (
	"context"
	"sort"
	"sync"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Pool
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[string]*domain.Pool),
	}
}

// Verify interface compliance at compile time.
var _ storage.PoolStore = (*PoolStore)(nil)

// CreateIfAbsent inserts the pool if its address is unknown.
func (s *PoolStore) CreateIfAbsent(_ context.Context, p *domain.Pool) (bool, error) {
	if p == nil || p.PoolAddress == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[p.PoolAddress]; ok {
		return false, nil
	}

	stored := *p
	s.data[p.PoolAddress] = &stored
	return true, nil
}

// GetByAddress retrieves a pool by address.
func (s *PoolStore) GetByAddress(_ context.Context, poolAddress string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[poolAddress]
	if !ok {
		return nil, storage.ErrNotFound
	}

	c := *p
	return &c, nil
}

// ListAll retrieves all pools ordered by created_at ASC.
func (s *PoolStore) ListAll(_ context.Context) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Pool, 0, len(s.data))
	for _, p := range s.data {
		c := *p
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].PoolAddress < result[j].PoolAddress
	})

	return result, nil
}
