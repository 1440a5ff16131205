/*
Package sqlite provides a SQLite-backed leave.TxRepository.

PURPOSE:
  Persists everything the leave engine stores: the ledger, requests, archive
  rows, closed years, catalog edits and the audit trail. One type, conn,
  implements every method over a querier, so the same code serves the plain
  database handle and a *sql.Tx inside WithTx.

APPEND-ONLY ENFORCEMENT:
  The transactions table only ever sees INSERT. Corrections are reversal
  rows. Idempotency keys are UNIQUE; a violation maps to
  generic.ErrDuplicateIdempotencyKey.

KEY TABLES:
  transactions:  Immutable ledger, replayed for every balance read
  requests:      Leave requests; stage records kept as JSON
  summaries:     One archive row per (employee, year); entries as JSON
  closed_years:  Frozen years
  leave_types:   Catalog edits made at runtime
  audit:         Who did what when

CONCURRENCY:
  The pool holds a single connection. Writers are serialised by it and a
  running WithTx owns it until commit, so the engine's read-check-write
  sequences never interleave at the database.

MIGRATION:
  Versioned migrations under migrations/ are embedded and applied with
  golang-migrate on New().

USAGE:
  repo, err := sqlite.New("./data/leave.db")
  if err != nil {
      return err
  }
  defer repo.Close()
  engine := leave.New(repo, catalog)

SEE ALSO:
  - leave/repository.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	gosqlite "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements leave.TxRepository using SQLite.
type Store struct {
	conn
	db *sql.DB
}

var (
	_ leave.TxRepository = (*Store)(nil)
	_ leave.Repository   = (*conn)(nil)
)

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases live per connection
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{conn: conn{q: db}, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// m.Close would close db as well; only the source is released.
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside a database transaction. An error from fn rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Repository) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// conn implements leave.Repository over a querier.
type conn struct {
	q querier
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseAmount(value, unit string) (generic.Amount, error) {
	a, err := generic.ParseAmount(value, generic.Unit(unit))
	if err != nil {
		return generic.Amount{}, fmt.Errorf("bad amount %q: %w", value, err)
	}
	return a, nil
}

func isUniqueConstraintError(err error) bool {
	var se gosqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == gosqlite.ErrConstraintUnique || se.ExtendedCode == gosqlite.ErrConstraintPrimaryKey
}
