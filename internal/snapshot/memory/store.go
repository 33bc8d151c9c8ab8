// Package memory keeps page snapshots in process memory for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Store holds snapshots in a map and returns pseudo URIs.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore creates an empty in-memory snapshot store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Put keeps a copy of the page body and returns a memory:// URI.
func (s *Store) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("snapshot path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored body for a path, if any.
func (s *Store) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[path]
	return b, ok
}

// Len reports how many snapshots are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
