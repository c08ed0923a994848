// Package noop provides an authenticator that admits every request.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/proxified/pkg/auth"
)

// Authenticator always votes Yes with the anonymous identity.
type Authenticator struct{}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: auth.Anonymous(),
	}
}
