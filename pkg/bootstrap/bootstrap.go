// Package bootstrap turns a loaded configuration into running components.
// The server and the command line client share it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rhuss/proxified/pkg/auth"
	"github.com/rhuss/proxified/pkg/auth/apikey"
	"github.com/rhuss/proxified/pkg/auth/jwt"
	"github.com/rhuss/proxified/pkg/auth/noop"
	"github.com/rhuss/proxified/pkg/config"
	"github.com/rhuss/proxified/pkg/debug"
	"github.com/rhuss/proxified/pkg/registry"
	"github.com/rhuss/proxified/pkg/storage"
	"github.com/rhuss/proxified/pkg/storage/memory"
	"github.com/rhuss/proxified/pkg/storage/postgres"
	"github.com/rhuss/proxified/pkg/storage/sqlite"
)

// InitLogging installs the process-wide logger.
func InitLogging(cfg config.LoggingConfig) {
	debug.Init(debug.Options{
		Categories: cfg.Debug,
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     os.Stderr,
	})
}

// OpenBackend opens the configured storage backend.
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "memory":
		slog.Info("storage enabled", "type", "memory")
		return memory.New(), nil

	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MinConns:       cfg.Postgres.MinConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return store, nil

	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite storage: %w", err)
		}
		slog.Info("storage enabled", "type", "sqlite", "path", cfg.SQLite.Path)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// NewRegistry opens the backend and builds a registry on the configured key.
// The caller closes the returned backend.
func NewRegistry(ctx context.Context, cfg *config.Config) (*registry.Registry, storage.Backend, error) {
	backend, err := OpenBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return registry.New(backend, registry.WithKey(cfg.Storage.Key)), backend, nil
}

// NewAuthChain builds the authenticator chain for cfg.Type.
func NewAuthChain(cfg config.AuthConfig) (*auth.AuthChain, error) {
	switch cfg.Type {
	case "", "none":
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{&noop.Authenticator{}},
			DefaultDecision: auth.Yes,
		}, nil

	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			id := auth.Identity{Subject: k.Subject, ServiceTier: k.ServiceTier}
			if id.Subject == "" {
				id.Subject = "apikey"
			}
			if k.TenantID != "" {
				id.Metadata = map[string]string{auth.MetadataTenantID: k.TenantID}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		slog.Info("authentication enabled", "type", "apikey", "keys", len(entries))
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}, nil

	case "jwt":
		a, err := jwt.New(jwt.Config{
			Secret:      []byte(cfg.JWT.Secret),
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			TenantClaim: cfg.JWT.TenantClaim,
		})
		if err != nil {
			return nil, fmt.Errorf("creating jwt authenticator: %w", err)
		}
		slog.Info("authentication enabled", "type", "jwt", "issuer", cfg.JWT.Issuer)
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{a},
			DefaultDecision: auth.No,
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}

// NewRateLimiter returns nil when no limit is configured.
func NewRateLimiter(cfg config.RateLimitConfig) auth.RateLimiter {
	if cfg.DefaultRPM <= 0 && len(cfg.Tiers) == 0 {
		return nil
	}
	tiers := make(map[string]auth.TierConfig, len(cfg.Tiers))
	for name, rpm := range cfg.Tiers {
		tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
	}
	return auth.NewInProcessLimiter(tiers, cfg.DefaultRPM)
}

// BypassEndpoints returns the unauthenticated paths, including a custom
// metrics path.
func BypassEndpoints(cfg *config.Config) []string {
	bypass := append([]string(nil), auth.DefaultBypassEndpoints...)
	if cfg.Observability.Metrics.Enabled && cfg.Observability.Metrics.Path != "/metrics" {
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}
	return bypass
}
