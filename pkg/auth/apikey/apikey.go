// Package apikey authenticates bearer tokens against a static key list.
// Keys are kept as SHA-256 digests and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"maps"
	"net/http"

	"github.com/rhuss/proxified/pkg/auth"
)

type keyEntry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates bearer tokens against configured keys.
type Authenticator struct {
	keys []keyEntry
}

// RawKeyEntry pairs a plaintext key with the identity it grants.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// New hashes the given keys. Plaintext keys are not retained.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{keys: make([]keyEntry, 0, len(entries))}
	for _, e := range entries {
		a.keys = append(a.keys, keyEntry{
			hash:     sha256.Sum256([]byte(e.Key)),
			identity: e.Identity,
		})
	}
	return a
}

// Len returns the number of configured keys.
func (a *Authenticator) Len() int {
	return len(a.keys)
}

// Authenticate abstains without a bearer token, accepts a known key and
// rejects everything else.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	token, ok := auth.BearerToken(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	digest := sha256.Sum256([]byte(token))

	// Scan every entry, no early exit.
	match := -1
	for i := range a.keys {
		if subtle.ConstantTimeCompare(digest[:], a.keys[i].hash[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrInvalidCredentials}
	}

	id := a.keys[match].identity
	if id.Metadata != nil {
		id.Metadata = maps.Clone(id.Metadata)
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: &id}
}
