package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/meshtrace/internal/fault"
)

//go:embed schema.sql
var schemaSQL string

// Store provides access to the shared bundle-observation tables.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the store described by cfg.
//
// The pool is limited to a single connection. For sqlite3 the database is
// configured with:
//   - WAL mode so analysis reads never block on a reconciler write
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Configuration problems are reported as fault.KindConfiguration; failing to
// reach the database is fault.KindConnectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver, dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fault.Wrap(fault.KindConnectivity, "store.open", "failed to open database", err)
	}

	// Verify connection works
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fault.Wrap(fault.KindConnectivity, "store.open", "failed to connect to database", err)
	}

	// One scoped connection per run
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := Dialect(driver)
	if d == DialectSQLite {
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fault.Wrap(fault.KindConnectivity, "store.open", "failed to apply pragmas", err)
		}
	}

	return &Store{db: db, dialect: d}, nil
}

// Close closes the database connection.
// Safe to call on a closed or zero Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// exec runs a statement after rebinding placeholders.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

// query runs a query after rebinding placeholders.
// Callers are responsible for closing the returned rows.
func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

// queryRow runs a single-row query after rebinding placeholders.
func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// TableExists reports whether table exists in the store.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	if err := CheckTableName(table); err != nil {
		return false, err
	}

	var query string
	name := table
	switch s.dialect {
	case DialectPostgres:
		// Unquoted identifiers are folded to lower case
		name = strings.ToLower(table)
		query = `SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = ?`
	default:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}

	var count int
	if err := s.queryRow(ctx, query, name).Scan(&count); err != nil {
		return false, fault.Wrap(fault.KindConnectivity, "store.table_exists",
			"unable to communicate with the database", err)
	}
	return count > 0, nil
}

// RequireTable returns fault.KindNotFound if table does not exist.
func (s *Store) RequireTable(ctx context.Context, table string) error {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fault.Newf(fault.KindNotFound, "store", "the specified table %q doesn't exist", table)
	}
	return nil
}

// CreateTable creates the observation table and its indexes.
// Returns fault.KindConsistency if the table already exists.
func (s *Store) CreateTable(ctx context.Context, table string) error {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return fault.Newf(fault.KindConsistency, "store.create_table", "the specified table %q already exists", table)
	}

	ddl := fmt.Sprintf(schemaSQL, table, s.dialect.idColumn())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create table: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create table: commit: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
