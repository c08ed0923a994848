// Package registry maps browser containers (cookie stores) to proxy
// descriptors.
//
// The whole mapping is one ordered list of api.Record values, persisted as
// a single JSON document under one storage key. A Registry is constructed
// once with a storage.Backend and shared by the HTTP handlers, the MCP tool
// server and the CLI. Every mutation is an atomic read-modify-write through
// storage.Backend.Update, so concurrent writers never lose updates.
//
// Failures are reported as *Error values carrying the tag strings the
// browser extension uses (uninitialized, doesnotexist, not-found, internal).
// Use errors.Is with the package sentinels to branch on them.
package registry
