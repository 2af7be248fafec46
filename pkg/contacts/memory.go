package contacts

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// GetContact returns a copy of the stored record
func (s *MemoryStore) GetContact(ctx context.Context, peerID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[peerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// SaveContact stores a copy of record
func (s *MemoryStore) SaveContact(ctx context.Context, record *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record == nil || record.PeerID == "" {
		return ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.PeerID]; ok && record.LastSeen < existing.LastSeen {
		return ErrStale
	}
	s.records[record.PeerID] = *record
	return nil
}

// ListContacts returns all records ordered by peer id
func (s *MemoryStore) ListContacts(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out, nil
}
