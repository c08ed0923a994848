// Package jwt authenticates HMAC-signed JSON Web Tokens presented as bearer
// tokens. Issuer and audience are checked when configured. A configurable
// claim carries the tenant used to scope registry storage.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/proxified/pkg/auth"
	"github.com/rhuss/proxified/pkg/debug"
)

// Config holds the JWT authenticator configuration.
type Config struct {
	// Secret is the shared HMAC key. Required.
	Secret []byte

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	// UserClaim names the subject claim. Default: "sub".
	UserClaim string

	// TenantClaim names the tenant claim. Default: "tenant_id".
	TenantClaim string

	// ScopesClaim names the scope claim, either a space separated string or
	// an array. Default: "scope".
	ScopesClaim string

	// TierClaim names the service tier claim. Default: "tier".
	TierClaim string

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = auth.MetadataTenantID
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
}

var validMethods = []string{"HS256", "HS384", "HS512"}

// ErrNoSecret is returned by New when Config.Secret is empty.
var ErrNoSecret = errors.New("jwt: secret is required")

// Authenticator validates HMAC-signed bearer tokens.
type Authenticator struct {
	config Config
	parser *jwtlib.Parser
}

// New creates an authenticator.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods(validMethods),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwtlib.WithLeeway(cfg.Leeway))
	}

	return &Authenticator{
		config: cfg,
		parser: jwtlib.NewParser(opts...),
	}, nil
}

// Authenticate abstains when no bearer token is present or the token is not
// shaped like a JWT, so an API key authenticator can share the chain.
// Invalid tokens are rejected.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	tokenStr, ok := auth.BearerToken(r)
	if !ok || strings.Count(tokenStr, ".") != 2 {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	claims := jwtlib.MapClaims{}
	token, err := a.parser.ParseWithClaims(tokenStr, claims, a.keyFunc)
	if err != nil {
		debug.Log("auth", "jwt validation failed", "error", err)
		return auth.AuthResult{
			Decision: auth.No,
			Err:      fmt.Errorf("%w: %w", auth.ErrInvalidCredentials, err),
		}
	}
	if !token.Valid {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrInvalidCredentials}
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.AuthResult{
			Decision: auth.No,
			Err:      fmt.Errorf("%w: missing %q claim", auth.ErrInvalidCredentials, a.config.UserClaim),
		}
	}

	identity := &auth.Identity{
		Subject:     subject,
		ServiceTier: claimString(claims, a.config.TierClaim),
		Scopes:      extractScopes(claims, a.config.ScopesClaim),
		Metadata:    make(map[string]string),
	}
	if tenant := claimString(claims, a.config.TenantClaim); tenant != "" {
		identity.Metadata[auth.MetadataTenantID] = tenant
	}

	return auth.AuthResult{Decision: auth.Yes, Identity: identity}
}

func (a *Authenticator) keyFunc(token *jwtlib.Token) (any, error) {
	if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return a.config.Secret, nil
}

// Claims describes a token minted by Sign.
type Claims struct {
	Subject  string
	Tenant   string
	Tier     string
	Scopes   []string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Sign mints an HS256 token that an Authenticator with the same secret and
// default claim names accepts.
func Sign(secret []byte, c Claims) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	if c.Subject == "" {
		return "", errors.New("jwt: subject is required")
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub": c.Subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if c.Tenant != "" {
		claims[auth.MetadataTenantID] = c.Tenant
	}
	if c.Tier != "" {
		claims["tier"] = c.Tier
	}
	if len(c.Scopes) > 0 {
		claims["scope"] = strings.Join(c.Scopes, " ")
	}
	if c.Issuer != "" {
		claims["iss"] = c.Issuer
	}
	if c.Audience != "" {
		claims["aud"] = c.Audience
	}

	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes accepts "read write" as well as ["read", "write"].
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	switch val := claims[key].(type) {
	case string:
		parts := strings.Fields(val)
		if len(parts) == 0 {
			return nil
		}
		return parts
	case []any:
		var scopes []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	default:
		return nil
	}
}
