package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrClosed is returned by a backend after Close has been called.
	ErrClosed = errors.New("storage backend closed")
)
