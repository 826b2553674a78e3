package querysql

import (
	"fmt"

	"github.com/roach88/synclone/internal/schema"
)

// Dialect captures the SQL differences between supported engines.
type Dialect interface {
	// Name identifies the dialect ("sqlite" or "postgres").
	Name() string
	// Placeholder returns the bind parameter marker for the n-th (1-based)
	// argument.
	Placeholder(n int) string
	// ColumnType maps a logical column type to the engine type.
	ColumnType(t schema.ColumnType) string
	// PrimaryKey returns the column definition tail of an auto-increment
	// integer primary key.
	PrimaryKey() string
	// Now is the expression for the current timestamp.
	Now() string
	// ReturningID reports whether inserts must use RETURNING to learn the
	// generated id (LastInsertId is unsupported).
	ReturningID() bool
	// CascadeDrop reports whether DROP TABLE takes CASCADE.
	CascadeDrop() bool
	// ResetSequence returns the statement that moves the table's id
	// sequence past max(id). The second return is false for engines whose
	// auto-increment needs no separate sequence object.
	ResetSequence(table string) (string, bool)
}

// SQLite is the dialect for github.com/mattn/go-sqlite3.
type SQLite struct{}

func (SQLite) Name() string           { return "sqlite" }
func (SQLite) Placeholder(int) string { return "?" }
func (SQLite) PrimaryKey() string     { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (SQLite) Now() string            { return "CURRENT_TIMESTAMP" }
func (SQLite) ReturningID() bool      { return false }
func (SQLite) CascadeDrop() bool      { return false }

func (SQLite) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeReal:
		return "REAL"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDateTime:
		// mattn/go-sqlite3 scans TIMESTAMP columns into time.Time
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// ResetSequence is a no-op: AUTOINCREMENT tracks explicit ids through
// sqlite_sequence.
func (SQLite) ResetSequence(string) (string, bool) { return "", false }

// Postgres is the dialect for the pgx database/sql driver.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Postgres) PrimaryKey() string       { return "SERIAL PRIMARY KEY" }
func (Postgres) Now() string              { return "now()" }
func (Postgres) ReturningID() bool        { return true }
func (Postgres) CascadeDrop() bool        { return true }

func (Postgres) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeReal:
		return "DOUBLE PRECISION"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDateTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (Postgres) ResetSequence(table string) (string, bool) {
	q := Quote(table)
	return fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE(MAX(%s), 0) + 1, false) FROM %s",
		q, Quote(schema.ColumnID), q,
	), true
}
