// Package transport defines the registry contract served over the wire and
// the HTTP middleware chain shared by the API and MCP surfaces.
//
// # Handler Interface
//
// ContainerRegistry is the contract between the transport layer and the
// registry. *registry.Registry implements it; tests substitute fakes.
//
// # Middleware
//
// Middleware wraps http.Handler with cross-cutting concerns. Built-in
// middleware provides panic recovery, request ID assignment (X-Request-ID),
// and structured logging via log/slog. Chain composes them in order.
//
// # Errors
//
// Registry failures are mapped onto api.APIError values: invalid arguments
// become 400, unknown containers 404 (the code carries the registry tag),
// an uninitialized registry 409 and everything else 500.
package transport
