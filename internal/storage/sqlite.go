// Package storage keeps the responsibility snapshot and the reminder queue
// in one SQLite file.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quantumlife/responsibility/internal/core"
)

// busyTimeout is how long a statement waits on a locked database file,
// e.g. while `resp serve` and a one-shot command write at the same time.
const busyTimeout = 5 * time.Second

// DB wraps the SQLite connection pool
type DB struct {
	conn *sql.DB
	path string
}

// Config for database initialization
type Config struct {
	Path     string // Database file, created with its directory if missing
	InMemory bool   // Private in-memory database (tests)
}

// Open opens or creates the database. Pragmas travel in the DSN so they
// apply to every connection the pool opens.
func Open(cfg Config) (*DB, error) {
	dsn, err := dataSourceName(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; an in-memory database also lives and dies
	// with its only connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if !cfg.InMemory {
		db.path = cfg.Path
	}
	return db, nil
}

func dataSourceName(cfg Config) (string, error) {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))

	if cfg.InMemory {
		return ":memory:?" + q.Encode(), nil
	}
	if cfg.Path == "" {
		return "", fmt.Errorf("%w: database path", core.ErrMissingRequired)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return cfg.Path + "?" + q.Encode(), nil
}

// Close closes the pool
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the pool for stores in other packages
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path is the database file, empty for an in-memory database.
func (db *DB) Path() string {
	return db.path
}

// Transaction runs fn in a transaction, rolling back when fn fails.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
