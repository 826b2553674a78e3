package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/synclone/internal/querysql"
	"github.com/roach88/synclone/internal/schema"
)

// Operation is the kind of mutation a log entry records.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ChangeLogEntry is one row of the history table. For updates, changed
// columns hold []any{new, old}.
type ChangeLogEntry struct {
	ID        int64
	Table     string
	RowID     int64
	Values    Values
	Operation Operation
	User      string
	Timestamp time.Time
}

var logColumns = []string{"id", "table_name", "table_id", "values", "operation", "user", "timestamp"}

func logValues(e ChangeLogEntry) (Values, error) {
	if !e.Operation.Valid() {
		return nil, Errorf(ErrCodeConfiguration, "unknown operation %q", e.Operation)
	}
	encoded, err := MarshalValues(e.Values)
	if err != nil {
		return nil, err
	}
	v := Values{
		"table_name": e.Table,
		"table_id":   e.RowID,
		"values":     encoded,
		"operation":  string(e.Operation),
		"timestamp":  e.Timestamp.UTC(),
	}
	if e.User != "" {
		v["user"] = e.User
	}
	return v, nil
}

// AppendHistory appends e to the change log and returns the new entry id.
// e.ID is ignored.
func (s *Store) AppendHistory(ctx context.Context, q Querier, e ChangeLogEntry) (int64, error) {
	v, err := logValues(e)
	if err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	return s.InsertRow(ctx, q, schema.TableHistory, v)
}

// HistorySince returns every entry with an id greater than after, oldest
// first.
func (s *Store) HistorySince(ctx context.Context, q Querier, after int64) ([]ChangeLogEntry, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s > %s ORDER BY %s ASC",
		quoteList(logColumns), querysql.Quote(schema.TableHistory),
		querysql.Quote(schema.ColumnID), s.dialect.Placeholder(1), querysql.Quote(schema.ColumnID))
	rows, err := s.q(q).QueryContext(ctx, stmt, after)
	if err != nil {
		return nil, classify("read history", err)
	}
	defer rows.Close()

	var out []ChangeLogEntry
	for rows.Next() {
		var e ChangeLogEntry
		if err := scanEntry(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read history", err)
	}
	return out, nil
}

// MaxHistoryID returns the highest history id. The second return is false
// when the log is empty.
func (s *Store) MaxHistoryID(ctx context.Context, q Querier) (int64, bool, error) {
	var id sql.NullInt64
	if err := s.q(q).QueryRowContext(ctx, querysql.Max(schema.TableHistory, schema.ColumnID)).Scan(&id); err != nil {
		return 0, false, classify("read history", err)
	}
	return id.Int64, id.Valid, nil
}

func quoteList(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = querysql.Quote(c)
	}
	return strings.Join(parts, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry reads the logColumns of a history or to_sync row. extra
// destinations are scanned after them.
func scanEntry(sc scanner, e *ChangeLogEntry, extra ...any) error {
	var (
		values string
		op     string
		user   sql.NullString
		ts     any
	)
	dest := append([]any{&e.ID, &e.Table, &e.RowID, &values, &op, &user, &ts}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return classify("scan log entry", err)
	}
	v, err := UnmarshalValues(values)
	if err != nil {
		return fmt.Errorf("log entry %d: %w", e.ID, err)
	}
	e.Values = v
	e.Operation = Operation(op)
	e.User = user.String
	t, err := asTime(ts)
	if err != nil {
		return fmt.Errorf("log entry %d: %w", e.ID, err)
	}
	e.Timestamp = t
	return nil
}

func asTime(v any) (time.Time, error) {
	switch t := fromDriver(v).(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, ok := ParseTime(t)
		if !ok {
			return time.Time{}, fmt.Errorf("cannot parse timestamp %q", t)
		}
		return parsed.UTC(), nil
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
}
