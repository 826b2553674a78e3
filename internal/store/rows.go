package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/synclone/internal/querysql"
	"github.com/roach88/synclone/internal/schema"
)

// args coerces values to the driver form of their columns, in cols order.
func args(t *schema.Table, cols []string, values Values) ([]any, error) {
	out := make([]any, len(cols))
	for i, name := range cols {
		col, ok := t.Column(name)
		if !ok {
			return nil, Errorf(ErrCodeConfiguration, "table %s has no column %q", t.Name, name)
		}
		v, err := coerce(col, values[name])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// InsertRow inserts one row and returns its generated id. An explicit id in
// values is honoured.
func (s *Store) InsertRow(ctx context.Context, q Querier, table string, values Values) (int64, error) {
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	cols := querysql.SortedKeys(values)
	a, err := args(t, cols, values)
	if err != nil {
		return 0, err
	}
	stmt := querysql.Insert(s.dialect, table, cols)
	if s.dialect.ReturningID() {
		var id int64
		if err := s.q(q).QueryRowContext(ctx, stmt, a...).Scan(&id); err != nil {
			return 0, classify("insert into "+table, err)
		}
		return id, nil
	}
	res, err := s.q(q).ExecContext(ctx, stmt, a...)
	if err != nil {
		return 0, classify("insert into "+table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("insert into "+table, err)
	}
	return id, nil
}

// BulkInsert inserts rows, each holding one value per column of cols, with a
// single statement.
func (s *Store) BulkInsert(ctx context.Context, q Querier, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	t, err := s.table(table)
	if err != nil {
		return err
	}
	stmt, err := querysql.BulkInsert(s.dialect, table, cols, len(rows))
	if err != nil {
		return err
	}
	flat := make([]any, 0, len(cols)*len(rows))
	for _, row := range rows {
		if len(row) != len(cols) {
			return fmt.Errorf("bulk insert into %s: row has %d values, want %d", table, len(row), len(cols))
		}
		for i, v := range row {
			col, _ := t.Column(cols[i])
			cv, err := coerce(col, v)
			if err != nil {
				return fmt.Errorf("bulk insert into %s: %w", table, err)
			}
			flat = append(flat, cv)
		}
	}
	if _, err := s.q(q).ExecContext(ctx, stmt, flat...); err != nil {
		return classify("bulk insert into "+table, err)
	}
	return nil
}

// UpdateRow sets values on the row with the given id and returns the number
// of affected rows.
func (s *Store) UpdateRow(ctx context.Context, q Querier, table string, id int64, values Values) (int64, error) {
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	cols := querysql.SortedKeys(values)
	stmt, err := querysql.Update(s.dialect, table, cols)
	if err != nil {
		return 0, err
	}
	a, err := args(t, cols, values)
	if err != nil {
		return 0, err
	}
	res, err := s.q(q).ExecContext(ctx, stmt, append(a, id)...)
	if err != nil {
		return 0, classify("update "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("update "+table, err)
	}
	return n, nil
}

// DeleteRow deletes the row with the given id and returns the number of
// affected rows.
func (s *Store) DeleteRow(ctx context.Context, q Querier, table string, id int64) (int64, error) {
	if _, err := s.table(table); err != nil {
		return 0, err
	}
	res, err := s.q(q).ExecContext(ctx, querysql.DeleteByID(s.dialect, table), id)
	if err != nil {
		return 0, classify("delete from "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("delete from "+table, err)
	}
	return n, nil
}

// SelectRow reads every column of one row. The second return is false when
// no such row exists.
func (s *Store) SelectRow(ctx context.Context, q Querier, table string, id int64) (Values, bool, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, false, err
	}
	cols := t.ColumnNames()
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	err = s.q(q).QueryRowContext(ctx, querysql.SelectByID(s.dialect, table, cols), id).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("select from "+table, err)
	}
	row := make(Values, len(cols))
	for i, c := range cols {
		row[c] = fromDriver(dest[i])
	}
	return row, true, nil
}

// StreamRows calls fn for every row of table in id order. Values are given
// in the table's column order and the slice is reused between calls.
func (s *Store) StreamRows(ctx context.Context, q Querier, table string, fn func(row []any) error) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	cols := t.ColumnNames()
	rows, err := s.q(q).QueryContext(ctx, querysql.SelectAll(table, cols))
	if err != nil {
		return classify("select from "+table, err)
	}
	defer rows.Close()

	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return classify("scan "+table, err)
		}
		for i := range dest {
			dest[i] = fromDriver(dest[i])
		}
		if err := fn(dest); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return classify("select from "+table, err)
	}
	return nil
}

// CountRows returns the number of rows in table.
func (s *Store) CountRows(ctx context.Context, q Querier, table string) (int64, error) {
	if _, err := s.table(table); err != nil {
		return 0, err
	}
	var n int64
	if err := s.q(q).QueryRowContext(ctx, querysql.Count(table)).Scan(&n); err != nil {
		return 0, classify("count "+table, err)
	}
	return n, nil
}

// ResetSequences moves every auto-increment sequence past the highest id
// present. Engines without separate sequence objects need nothing.
func (s *Store) ResetSequences(ctx context.Context, q Querier) error {
	for _, t := range s.schema.Sorted() {
		if !t.HasAutoIncrement() {
			continue
		}
		stmt, ok := s.dialect.ResetSequence(t.Name)
		if !ok {
			continue
		}
		if _, err := s.q(q).ExecContext(ctx, stmt); err != nil {
			return classify("reset sequence of "+t.Name, err)
		}
	}
	return nil
}
