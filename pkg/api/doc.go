// Package api defines the core types for the proxified container proxy
// registry.
//
// This package provides the data types shared by the registry, its storage
// backends and its outer surfaces (HTTP, MCP, CLI): proxy descriptors, the
// container-to-proxy record, descriptor parsing, and the structured API error.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O. Records use the same JSON layout the browser extension
// writes to its local storage, so an exported extension store can be loaded
// as-is.
//
// Core types:
//   - [ProxyDescriptor]: scheme, optional credentials, host and optional port
//   - [Record]: one container id mapped to one ProxyDescriptor
//   - [APIError]: Structured error with type, code, param, and message
package api
