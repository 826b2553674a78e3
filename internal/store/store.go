package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/synclone/internal/querysql"
	"github.com/roach88/synclone/internal/schema"
)

const memoryURI = "sqlite::memory:"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Querier is the subset of *sql.DB and *sql.Tx the store needs. Every store
// method takes one so callers decide the transaction boundary; nil means the
// store's own connection.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is one collection database: the user tables of a schema plus the
// meta, history and to_sync bookkeeping tables.
type Store struct {
	db      *sql.DB
	dialect querysql.Dialect
	schema  *schema.Schema
	uri     string
}

// Open connects to the store addressed by uri. Supported forms:
//
//	sqlite:///abs/path.db, sqlite://rel/path.db, /bare/path.db
//	sqlite::memory:
//	postgres://... and postgresql://...
//
// SQLite connections get the same pragmas as before (WAL, NORMAL sync,
// 5-second busy timeout, foreign keys on) and a single connection so there
// is only ever one writer. Open does not create tables; see EnsureSchema.
func Open(ctx context.Context, uri string, s *schema.Schema) (*Store, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, ErrNoConnection
	}
	if s == nil {
		return nil, Errorf(ErrCodeConfiguration, "no schema for store %s", uri)
	}
	driver, dsn, dialect := parseURI(uri)

	openMu.Lock()
	db, err := sqlOpen(driver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &Error{Code: ErrCodeConfiguration, Message: "cannot connect to " + Redact(uri), Detail: firstLine(err.Error()), Err: err}
	}

	if dialect.Name() == "sqlite" {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	return &Store{db: db, dialect: dialect, schema: s, uri: uri}, nil
}

func parseURI(uri string) (driver, dsn string, dialect querysql.Dialect) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return "pgx", uri, querysql.Postgres{}
	case uri == memoryURI:
		return "sqlite3", ":memory:", querysql.SQLite{}
	case strings.HasPrefix(uri, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(uri, "sqlite://"), querysql.SQLite{}
	default:
		return "sqlite3", uri, querysql.SQLite{}
	}
}

// SameURI reports whether a and b address the same store. In-memory SQLite
// stores are never the same store.
func SameURI(a, b string) bool {
	da, pa, _ := parseURI(a)
	db, pb, _ := parseURI(b)
	if da != db {
		return false
	}
	if da == "pgx" {
		return pa == pb
	}
	if pa == ":memory:" || pb == ":memory:" {
		return false
	}
	absA, errA := filepath.Abs(pa)
	absB, errB := filepath.Abs(pb)
	if errA != nil || errB != nil {
		return filepath.Clean(pa) == filepath.Clean(pb)
	}
	return absA == absB
}

// Redact hides the password of a postgres URI for logs and messages.
func Redact(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return uri
	}
	if user, _, hasPass := strings.Cut(userinfo, ":"); hasPass {
		return scheme + "://" + user + ":xxxxx@" + host
	}
	return uri
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB { return s.db }

// URI returns the address the store was opened with.
func (s *Store) URI() string { return s.uri }

// Schema returns the store's table definitions.
func (s *Store) Schema() *schema.Schema { return s.schema }

// Dialect returns the SQL dialect of the underlying engine.
func (s *Store) Dialect() querysql.Dialect { return s.dialect }

// InTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	committed = true
	return nil
}

func (s *Store) q(q Querier) Querier {
	if q == nil {
		return s.db
	}
	return q
}

func (s *Store) table(name string) (*schema.Table, error) {
	t, ok := s.schema.Table(name)
	if !ok {
		return nil, Errorf(ErrCodeConfiguration, "unknown table %q", name)
	}
	return t, nil
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
