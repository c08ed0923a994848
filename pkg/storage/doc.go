// Package storage defines the key-value Backend contract the registry
// persists through, plus utilities shared across backend implementations:
// sentinel errors and tenant context helpers.
//
// A Backend stores opaque byte values under string keys, much like the
// browser's extension local storage area. Implementations live in the
// memory, postgres and sqlite subpackages.
package storage
