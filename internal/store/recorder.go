package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/synclone/internal/schema"
)

// Recorder mutates user tables and appends the matching change log entry in
// the same transaction. It is how local edits keep the history table
// complete: every insert, update and delete made through it is replayable.
type Recorder struct {
	store *Store
	user  string
	now   func() time.Time
}

// Recorder returns a Recorder attributing entries to user. now defaults to
// time.Now.
func (s *Store) Recorder(user string, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: s, user: user, now: now}
}

// Insert adds a row and logs the row as stored, system columns included.
func (r *Recorder) Insert(ctx context.Context, table string, values Values) (int64, error) {
	var id int64
	err := r.store.InTx(ctx, func(tx *sql.Tx) error {
		ts := r.now().UTC()
		v := stripSystem(values)
		v[schema.ColumnCreated] = ts
		v[schema.ColumnLastUpdated] = ts
		var err error
		if id, err = r.store.InsertRow(ctx, tx, table, v); err != nil {
			return err
		}
		row, _, err := r.store.SelectRow(ctx, tx, table, id)
		if err != nil {
			return err
		}
		return r.log(ctx, tx, table, id, OpInsert, row, ts)
	})
	if err != nil {
		return 0, fmt.Errorf("record insert into %s: %w", table, err)
	}
	return id, nil
}

// Update changes the given columns. Columns whose value differs from the
// stored one are logged as [new, old]; the remaining columns of the row are
// logged as plain values. Returns false without logging when nothing
// changed.
func (r *Recorder) Update(ctx context.Context, table string, id int64, values Values) (bool, error) {
	changed := false
	err := r.store.InTx(ctx, func(tx *sql.Tx) error {
		old, ok, err := r.store.SelectRow(ctx, tx, table, id)
		if err != nil {
			return err
		}
		if !ok {
			return Errorf(ErrCodeConfiguration, "no %s row with id %d", table, id)
		}
		diff := Values{}
		for col, v := range stripSystem(values) {
			if !ValuesEqual(old[col], v) {
				diff[col] = v
			}
		}
		if len(diff) == 0 {
			return nil
		}
		ts := r.now().UTC()
		diff[schema.ColumnLastUpdated] = ts
		if _, err := r.store.UpdateRow(ctx, tx, table, id, diff); err != nil {
			return err
		}
		updated, _, err := r.store.SelectRow(ctx, tx, table, id)
		if err != nil {
			return err
		}
		entry := Values{}
		for col, v := range updated {
			if _, ok := diff[col]; ok && !schema.IsSystemColumn(col) {
				entry[col] = []any{v, old[col]}
			} else {
				entry[col] = v
			}
		}
		changed = true
		return r.log(ctx, tx, table, id, OpUpdate, entry, ts)
	})
	if err != nil {
		return false, fmt.Errorf("record update of %s %d: %w", table, id, err)
	}
	return changed, nil
}

// Delete removes a row and logs its last state. Returns false when the row
// does not exist.
func (r *Recorder) Delete(ctx context.Context, table string, id int64) (bool, error) {
	deleted := false
	err := r.store.InTx(ctx, func(tx *sql.Tx) error {
		row, ok, err := r.store.SelectRow(ctx, tx, table, id)
		if err != nil || !ok {
			return err
		}
		if _, err := r.store.DeleteRow(ctx, tx, table, id); err != nil {
			return err
		}
		deleted = true
		return r.log(ctx, tx, table, id, OpDelete, row, r.now().UTC())
	})
	if err != nil {
		return false, fmt.Errorf("record delete of %s %d: %w", table, id, err)
	}
	return deleted, nil
}

func (r *Recorder) log(ctx context.Context, q Querier, table string, id int64, op Operation, values Values, ts time.Time) error {
	_, err := r.store.AppendHistory(ctx, q, ChangeLogEntry{
		Table:     table,
		RowID:     id,
		Values:    values,
		Operation: op,
		User:      r.user,
		Timestamp: ts,
	})
	return err
}

func stripSystem(values Values) Values {
	out := make(Values, len(values))
	for k, v := range values {
		if !schema.IsSystemColumn(k) {
			out[k] = v
		}
	}
	return out
}
