// Package config provides unified configuration for the proxified service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (PROXIFIED_ prefix)
//  4. JSON list env vars (PROXIFIED_API_KEYS)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for the proxified service.
type Config struct {
	Server        ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Storage       StorageConfig       `yaml:"storage" envPrefix:"STORAGE_"`
	Auth          AuthConfig          `yaml:"auth" envPrefix:"AUTH_"`
	MCP           MCPConfig           `yaml:"mcp" envPrefix:"MCP_"`
	Observability ObservabilityConfig `yaml:"observability" envPrefix:"OBSERVABILITY_"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`                         // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`         // default: 15s
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`       // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"` // default: 10s
	MaxBodySize     int64         `yaml:"max_body_size" env:"MAX_BODY_SIZE"`       // default: 64 KiB
}

// StorageConfig selects and configures the registry backend.
type StorageConfig struct {
	Type     string         `yaml:"type" env:"TYPE"` // "memory", "postgres" or "sqlite", default: "memory"
	Key      string         `yaml:"key" env:"KEY"`   // default: "proxifiedContainersKey"
	Postgres PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
	SQLite   SQLiteConfig   `yaml:"sqlite" envPrefix:"SQLITE_"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn" env:"DSN"`
	DSNFile        string `yaml:"dsn_file" env:"DSN_FILE"`                 // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns" env:"MAX_CONNS"`               // default: 10
	MinConns       int32  `yaml:"min_conns" env:"MIN_CONNS"`               // default: 1
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"MIGRATE_ON_START"` // default: true
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"PATH"` // default: "proxified.db"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type" env:"TYPE"` // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"`        // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt" envPrefix:"JWT_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// RateLimitConfig holds per-tier request limits. Zero disables limiting.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm" env:"DEFAULT_RPM"`
	Tiers      map[string]int `yaml:"tiers"` // service tier -> requests per minute
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig holds settings for HMAC-signed bearer tokens.
type JWTConfig struct {
	Secret      string `yaml:"secret" env:"SECRET"`
	SecretFile  string `yaml:"secret_file" env:"SECRET_FILE"` // _file variant for secret
	Issuer      string `yaml:"issuer" env:"ISSUER"`
	Audience    string `yaml:"audience" env:"AUDIENCE"`
	TenantClaim string `yaml:"tenant_claim" env:"TENANT_CLAIM"` // default: "tenant_id"
}

// MCPConfig holds settings for the embedded MCP tool server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"` // default: true
	Path    string `yaml:"path" env:"PATH"`       // default: "/mcp"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"` // default: true
	Path    string `yaml:"path" env:"PATH"`       // default: "/metrics"
}

// LoggingConfig holds log level and debug category settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // default: "INFO"
	Format string `yaml:"format" env:"LOG_FORMAT"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug" env:"DEBUG"`       // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodySize:     64 << 10,
		},
		Storage: StorageConfig{
			Type: "memory",
			Key:  "proxifiedContainersKey",
			Postgres: PostgresConfig{
				MaxConns:       10,
				MinConns:       1,
				MigrateOnStart: true,
			},
			SQLite: SQLiteConfig{
				Path: "proxified.db",
			},
		},
		Auth: AuthConfig{
			Type: "none",
			JWT: JWTConfig{
				TenantClaim: "tenant_id",
			},
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
