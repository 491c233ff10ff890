// Package store persists every entity in the coordinator's data model to a
// single-writer, WAL-mode SQLite database and exposes typed, transactional
// operations over it. Every Reconciler and Report-Ingester public operation
// runs inside one *sqlx.Tx; callers obtain one via WithTx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/r3e-network/rebuildverify/internal/store/codemigrations"
	"github.com/r3e-network/rebuildverify/internal/store/migrations"
)

// Store wraps the database connection. All exported methods are safe for
// concurrent use; write concurrency is bounded by SQLite itself (single
// writer), not by anything in this package.
type Store struct {
	db *sqlx.DB
}

// Config controls how Open connects.
type Config struct {
	Path           string
	MaxOpenConns   int
	MigrateOnStart bool
}

// Open establishes a WAL-mode SQLite connection, applies pending schema
// migrations and code migrations when cfg.MigrateOnStart is set, and
// verifies connectivity with a ping.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", cfg.Path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1 // a single writer connection avoids SQLITE_BUSY under WAL
	}
	db.SetMaxOpenConns(maxOpen)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if cfg.MigrateOnStart {
		if _, _, err := migrations.Apply(db.DB); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema migrations: %w", err)
		}
		if err := codemigrations.Apply(ctx, db.DB); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply code migrations: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx, letting every entity
// method run against either a bare connection or an open transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Tx is an open transaction, scoped to one Reconciler or Report-Ingester call.
type Tx struct {
	tx *sqlx.Tx
}

// WithTx runs fn inside a new transaction, committing on a nil return and
// rolling back (leaving the database at its pre-call state) otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, &Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
