package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/synclone/internal/querysql"
	"github.com/roach88/synclone/internal/schema"
)

// StagedChange is a remote change log entry queued in the origin for
// replay.
type StagedChange struct {
	ChangeLogEntry
	BatchNumber int64
}

// StagedFilter narrows ListStaged. Zero values select everything.
type StagedFilter struct {
	Batch int64
	IDs   []int64
}

// InsertStaged queues a copy of e under batch. The remote timestamp and
// user are kept; the remote entry id is not.
func (s *Store) InsertStaged(ctx context.Context, q Querier, batch int64, e ChangeLogEntry) (int64, error) {
	v, err := logValues(e)
	if err != nil {
		return 0, fmt.Errorf("stage change: %w", err)
	}
	v["batch_number"] = batch
	return s.InsertRow(ctx, q, schema.TableToSync, v)
}

// ListStaged returns staged changes matching f in ascending id order.
func (s *Store) ListStaged(ctx context.Context, q Querier, f StagedFilter) ([]StagedChange, error) {
	var (
		where []string
		args  []any
	)
	if f.Batch != 0 {
		args = append(args, f.Batch)
		where = append(where, fmt.Sprintf("%s = %s", querysql.Quote("batch_number"), s.dialect.Placeholder(len(args))))
	}
	if len(f.IDs) > 0 {
		marks := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			args = append(args, id)
			marks[i] = s.dialect.Placeholder(len(args))
		}
		where = append(where, fmt.Sprintf("%s IN (%s)", querysql.Quote(schema.ColumnID), strings.Join(marks, ", ")))
	}
	stmt := fmt.Sprintf("SELECT %s, %s FROM %s", quoteList(logColumns), querysql.Quote("batch_number"), querysql.Quote(schema.TableToSync))
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY " + querysql.Quote(schema.ColumnID) + " ASC"

	rows, err := s.q(q).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify("list staged changes", err)
	}
	defer rows.Close()

	var out []StagedChange
	for rows.Next() {
		var c StagedChange
		if err := scanEntry(rows, &c.ChangeLogEntry, &c.BatchNumber); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list staged changes", err)
	}
	return out, nil
}

// GetStaged reads one staged change. The second return is false when it
// does not exist.
func (s *Store) GetStaged(ctx context.Context, q Querier, id int64) (StagedChange, bool, error) {
	stmt := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = %s",
		quoteList(logColumns), querysql.Quote("batch_number"), querysql.Quote(schema.TableToSync),
		querysql.Quote(schema.ColumnID), s.dialect.Placeholder(1))
	var c StagedChange
	err := scanEntry(s.q(q).QueryRowContext(ctx, stmt, id), &c.ChangeLogEntry, &c.BatchNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return StagedChange{}, false, nil
	}
	if err != nil {
		return StagedChange{}, false, err
	}
	return c, true, nil
}

// DeleteStaged removes a staged change.
func (s *Store) DeleteStaged(ctx context.Context, q Querier, id int64) error {
	if _, err := s.DeleteRow(ctx, q, schema.TableToSync, id); err != nil {
		return fmt.Errorf("delete staged change %d: %w", id, err)
	}
	return nil
}

// UpdateStagedValues replaces the captured values of a staged change, for
// example after a user edited them to resolve a conflict.
func (s *Store) UpdateStagedValues(ctx context.Context, q Querier, id int64, values Values) error {
	encoded, err := MarshalValues(values)
	if err != nil {
		return err
	}
	n, err := s.UpdateRow(ctx, q, schema.TableToSync, id, Values{"values": encoded})
	if err != nil {
		return fmt.Errorf("update staged change %d: %w", id, err)
	}
	if n == 0 {
		return Errorf(ErrCodeConfiguration, "no staged change with id %d", id)
	}
	return nil
}
