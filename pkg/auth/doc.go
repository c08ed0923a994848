// Package auth authenticates callers of the proxified HTTP and MCP surfaces.
//
// Authenticators vote Yes, No or Abstain on a request. An AuthChain runs them
// in order and falls back to its default decision when every voter abstains.
// The HTTP middleware stores the resulting Identity in the request context and
// scopes registry storage to the identity's tenant.
package auth
