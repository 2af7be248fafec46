package identity

import (
	"context"
	"sync"
)

// MemoryStore keeps the identity in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	id    *Identity
	saves int
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadIdentity returns ErrNotFound until SaveIdentity is called
func (s *MemoryStore) LoadIdentity(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id == nil {
		return nil, ErrNotFound
	}
	return s.id, nil
}

// SaveIdentity stores id
func (s *MemoryStore) SaveIdentity(ctx context.Context, id *Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.saves++
	return nil
}

// Saves reports how many times SaveIdentity succeeded
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
