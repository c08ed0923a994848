package auth

import "context"

type identityKey struct{}

// SetIdentity stores the authenticated identity in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by the middleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if v, ok := ctx.Value(identityKey{}).(*Identity); ok {
		return v
	}
	return nil
}

// SubjectFromContext returns the caller's subject, or "" when unauthenticated.
func SubjectFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Subject
	}
	return ""
}
