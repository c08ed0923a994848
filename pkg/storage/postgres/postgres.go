// Package postgres provides a PostgreSQL implementation of storage.Backend.
// It uses pgx/v5 for connection pooling and keeps every value in a JSONB
// column of a single kv_store table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/proxified/pkg/debug"
	"github.com/rhuss/proxified/pkg/storage"
)

// Store is a PostgreSQL-backed Backend.
type Store struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// Ensure Store implements storage.Backend at compile time.
var _ storage.Backend = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, storage.ErrClosed
	}

	var value []byte
	err := s.pool.QueryRow(ctx, "SELECT value FROM kv_store WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying key %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	if _, err := s.pool.Exec(ctx, upsertSQL, key, value); err != nil {
		return fmt.Errorf("writing key %q: %w", key, err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO kv_store (key, value, updated_at)
	VALUES ($1, $2::jsonb, now())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`

// Update runs fn inside a transaction holding a transaction-scoped advisory
// lock derived from key. The lock is taken before the read, so updates of a
// key that does not exist yet are serialized as well.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
		return fmt.Errorf("locking key %q: %w", key, err)
	}

	var cur []byte
	found := true
	err = tx.QueryRow(ctx, "SELECT value FROM kv_store WHERE key = $1", key).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		found = false
	} else if err != nil {
		return fmt.Errorf("querying key %q: %w", key, err)
	}

	next, err := fn(cur, found)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, upsertSQL, key, next); err != nil {
		return fmt.Errorf("writing key %q: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing key %q: %w", key, err)
	}

	debug.Log("storage", "postgres update committed", "key", key, "found", found)
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pool.Close()
	return nil
}
