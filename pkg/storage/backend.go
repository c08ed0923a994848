package storage

import "context"

// UpdateFunc computes the next value for a key from its current value.
// found is false when the key has never been written. Returning an error
// aborts the update without writing anything; the error is passed back to
// the caller of Update unchanged.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Backend is an asynchronous key-value store holding opaque values.
type Backend interface {
	// Get returns the value stored under key. found is false (and err nil)
	// when the key has never been written.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Update performs an atomic read-modify-write of key. Concurrent
	// Update calls on the same key are serialized, so no update is lost.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases connections and resources.
	Close() error
}
