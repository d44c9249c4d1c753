// Package memory provides a volatile in-memory Backend implementation.
// It is suitable for development, testing, and callers that explicitly do
// not need persistence across restarts.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/manglanigaurav01-jpg/trustgate/storage"
)

// Store is an in-memory implementation of storage.Backend.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.Backend = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Put stores value under key.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy so callers can't mutate stored bytes after the fact.
	buf := make([]byte, len(value))
	copy(buf, value)
	s.data[key] = buf
	return nil
}

// Get retrieves the value stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	return buf, nil
}

// Delete removes the value stored under key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// GetAndDelete atomically retrieves and removes the value under key.
func (s *Store) GetAndDelete(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.data, key)
	return value, nil
}

// List returns all keys beginning with prefix.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Len returns the number of stored keys. Exposed for tests and monitoring.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
