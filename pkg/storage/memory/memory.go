// Package memory provides an in-memory implementation of storage.Backend
// for testing and lightweight deployments. Values are kept in memory and
// lost when the process restarts.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/rhuss/proxified/pkg/storage"
)

// Store is an in-memory key-value Backend.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed bool
}

// Ensure Store implements storage.Backend at compile time.
var _ storage.Backend = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		values: make(map[string][]byte),
	}
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, storage.ErrClosed
	}

	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Set stores a copy of value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	s.values[key] = bytes.Clone(value)
	return nil
}

// Update runs fn under the write lock, so concurrent updates of any key
// are applied one after another.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	cur, found := s.values[key]
	next, err := fn(bytes.Clone(cur), found)
	if err != nil {
		return err
	}

	s.values[key] = bytes.Clone(next)
	return nil
}

// HealthCheck returns ErrClosed after Close, nil otherwise.
func (s *Store) HealthCheck(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// Close drops all values. Subsequent calls fail with storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.values = nil
	return nil
}
