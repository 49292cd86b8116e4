// Package memory provides an in-process implementation of storage.Store.
package memory

import (
	"context"
	"sync"

	"github.com/bissquit/triage-garden/internal/storage"
)

// Store keeps records in a map. Contents are lost on restart.
type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewStore creates an empty memory store.
func NewStore() *Store {
	return &Store{records: make(map[string][]byte)}
}

// Get returns a copy of the record stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.records[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of value under key.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes the record. Deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
