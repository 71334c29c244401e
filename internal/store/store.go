package store

import (
	"context"
	"sync"

	"github.com/sawpanic/macrorun/internal/indicator"
)

// Store persists the most recent good value per indicator so the
// gateway can serve stale-but-labeled data when every provider is
// down. Implementations must treat a missing key as (zero, false, nil),
// not as an error.
type Store interface {
	SaveGood(ctx context.Context, v indicator.Value) error
	LastKnownGood(ctx context.Context, id string) (indicator.Value, bool, error)
	Close() error
}

// MemoryStore keeps last-known-good values in process memory. It is
// the default for tests and for deployments without Redis or Postgres;
// values do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]indicator.Value
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]indicator.Value)}
}

func (s *MemoryStore) SaveGood(ctx context.Context, v indicator.Value) error {
	if v.Symbol == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[v.Symbol] = v
	return nil
}

func (s *MemoryStore) LastKnownGood(ctx context.Context, id string) (indicator.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	return v, ok, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored values.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
