package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
)

// AuthDecision is the vote of a single authenticator.
type AuthDecision int

const (
	// Yes accepts the credentials. The chain stops and the identity is used.
	Yes AuthDecision = iota

	// No rejects credentials that are present but invalid. The chain stops.
	No

	// Abstain means the authenticator does not handle this kind of credential.
	Abstain
)

// String returns the lower-case decision name.
func (d AuthDecision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // set when Decision == Yes
	Err      error     // set when Decision == No
}

// MetadataTenantID is the identity metadata key holding the tenant.
const MetadataTenantID = "tenant_id"

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique caller identifier and is never empty.
	Subject string

	// ServiceTier selects the rate limit bucket.
	ServiceTier string

	Scopes []string

	// Metadata carries authenticator specific data. MetadataTenantID scopes
	// the registry storage key.
	Metadata map[string]string
}

// Anonymous returns the identity used when no credentials are required.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: "default"}
}

// TenantID returns the tenant from metadata, or "".
func (id *Identity) TenantID() string {
	if id == nil || id.Metadata == nil {
		return ""
	}
	return id.Metadata[MetadataTenantID]
}

// HasScope reports whether the identity was granted scope.
func (id *Identity) HasScope(scope string) bool {
	if id == nil {
		return false
	}
	return slices.Contains(id.Scopes, scope)
}

// Authenticator examines request credentials and returns a vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("access denied")
	ErrTooManyRequests    = errors.New("rate limit exceeded")
)

// AuthChain evaluates authenticators in order.
type AuthChain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when every authenticator abstains. Yes admits
	// the caller as Anonymous, anything else rejects.
	DefaultDecision AuthDecision
}

// Authenticate runs the chain and stops on the first Yes or No.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision != Abstain {
			return result
		}
	}

	if c.DefaultDecision == Yes {
		return AuthResult{Decision: Yes, Identity: Anonymous()}
	}

	return AuthResult{
		Decision: No,
		Err:      ErrUnauthenticated,
	}
}

// BearerToken returns the token of a "Bearer" Authorization header and
// whether such a header was present.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}
