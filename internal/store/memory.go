package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and as the fallback when
// no durable directory is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailWrites makes Set return an error; used to test degradation.
	FailWrites bool
	// FailReads makes Get return an error; used to test degradation.
	FailReads bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

var errInjected = &injectedError{}

type injectedError struct{}

func (*injectedError) Error() string { return "injected store failure" }

// Get returns the stored value for a key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.FailReads {
		return nil, errInjected
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a value under a key.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if s.FailWrites {
		return errInjected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}
