// Package sqlite provides a SQLite-backed storage.Backend for single-node
// deployments and the command line tool. It uses the pure-Go
// modernc.org/sqlite driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rhuss/proxified/pkg/debug"
	"github.com/rhuss/proxified/pkg/storage"
)

// Store persists key-value pairs in a SQLite database file.
type Store struct {
	sqlDB  *sql.DB
	closed atomic.Bool
}

// Ensure Store implements storage.Backend at compile time.
var _ storage.Backend = (*Store)(nil)

// Open opens (or creates) the database at path and applies embedded
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers inside the process; _txlock=immediate
	// takes the write lock at BEGIN for other processes sharing the file.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, storage.ErrClosed
	}

	var value string
	err := s.sqlDB.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query key %q: %w", key, err)
	}
	return []byte(value), true, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	if _, err := s.sqlDB.ExecContext(ctx, upsertSQL, key, string(value), nowMillis()); err != nil {
		return fmt.Errorf("write key %q: %w", key, err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

// Update runs fn inside an immediate transaction.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur string
	found := true
	err = tx.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return fmt.Errorf("query key %q: %w", key, err)
	}

	var curBytes []byte
	if found {
		curBytes = []byte(cur)
	}
	next, err := fn(curBytes, found)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, upsertSQL, key, string(next), nowMillis()); err != nil {
		return fmt.Errorf("write key %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit key %q: %w", key, err)
	}

	debug.Log("storage", "sqlite update committed", "key", key, "found", found)
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return s.sqlDB.PingContext(ctx)
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.sqlDB.Close()
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}
