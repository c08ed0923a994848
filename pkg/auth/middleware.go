package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/proxified/pkg/api"
	"github.com/rhuss/proxified/pkg/debug"
	"github.com/rhuss/proxified/pkg/observability"
	"github.com/rhuss/proxified/pkg/storage"
	"github.com/rhuss/proxified/pkg/transport"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request outside the bypass list. Accepted
// requests carry the identity and its tenant in their context. A nil limiter
// disables rate limiting.
func Middleware(chain *AuthChain, limiter RateLimiter, bypassEndpoints []string) transport.Middleware {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)

			if result.Decision != Yes || result.Identity == nil {
				reason := rejectReason(result.Err)
				observability.AuthRejectedTotal.WithLabelValues(reason).Inc()
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"reason", reason,
					"error", result.Err,
				)
				if reason == "forbidden" {
					transport.WriteAPIError(w, api.NewPermissionError("access denied"))
					return
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="proxified"`)
				transport.WriteAPIError(w, api.NewAuthenticationError("authentication required"))
				return
			}

			if result.Identity.Subject == "" {
				observability.AuthRejectedTotal.WithLabelValues("empty_subject").Inc()
				slog.Error("authenticator returned identity with empty subject", "path", r.URL.Path)
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			debug.Log("auth", "authentication succeeded",
				"subject", result.Identity.Subject,
				"tenant", result.Identity.TenantID(),
				"path", r.URL.Path,
			)

			if limiter != nil {
				if err := limiter.Allow(r.Context(), result.Identity); err != nil {
					slog.Warn("rate limit exceeded",
						"subject", result.Identity.Subject,
						"tier", result.Identity.ServiceTier,
					)
					observability.RateLimitRejectedTotal.WithLabelValues(tierOf(result.Identity)).Inc()
					transport.WriteAPIError(w, api.NewTooManyRequestsError("rate limit exceeded"))
					return
				}
			}

			ctx := SetIdentity(r.Context(), result.Identity)
			if tenantID := result.Identity.TenantID(); tenantID != "" {
				ctx = storage.SetTenant(ctx, tenantID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case err == nil, errors.Is(err, ErrUnauthenticated):
		return "missing_credentials"
	default:
		return "invalid_credentials"
	}
}
