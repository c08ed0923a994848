package storage

import "context"

// tenantKey is a private type for the tenant context key, preventing
// collisions with other packages.
type tenantKey struct{}

// SetTenant injects a tenant identifier into the context.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant extracts the tenant identifier from the context.
// Returns an empty string if no tenant is set (single-tenant mode).
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}

// ScopedKey namespaces key by the tenant carried in ctx. Without a tenant
// the key is returned unchanged, so single-tenant deployments read the same
// key the browser extension writes.
func ScopedKey(ctx context.Context, key string) string {
	if tenant := GetTenant(ctx); tenant != "" {
		return "tenant/" + tenant + "/" + key
	}
	return key
}
