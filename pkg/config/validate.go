package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	if c.Storage.Key == "" {
		errs = append(errs, fmt.Errorf("storage.key is required"))
	}
	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite.path is required when storage.type is \"sqlite\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"postgres\", or \"sqlite\", got %q", c.Storage.Type))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Auth.RateLimit.DefaultRPM < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.default_rpm must not be negative, got %d", c.Auth.RateLimit.DefaultRPM))
	}
	for tier, rpm := range c.Auth.RateLimit.Tiers {
		if rpm < 0 {
			errs = append(errs, fmt.Errorf("auth.rate_limit.tiers[%s] must not be negative, got %d", tier, rpm))
		}
	}

	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path must start with \"/\", got %q", c.MCP.Path))
	}
	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
