package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/synclone/internal/querysql"
	"github.com/roach88/synclone/internal/schema"
)

// Metadata keys.
const (
	// MetaCloneHistoryID is the provenance marker: the origin's highest
	// history id at clone time.
	MetaCloneHistoryID = "clone_history_id"
	// MetaSyncBatchNum is the next batch number to hand out.
	MetaSyncBatchNum = "sync_batch_num"
	// MetaLastPullURI records the remote most recently pulled from, so a
	// clean sync can offer to refresh it.
	MetaLastPullURI = "last_pull_uri"
)

// GetMeta reads a metadata value. The second return is false when the key
// is absent.
func (s *Store) GetMeta(ctx context.Context, q Querier, name string) (string, bool, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		querysql.Quote("value"), querysql.Quote(schema.TableMeta), querysql.Quote("name"), s.dialect.Placeholder(1))
	var value sql.NullString
	err := s.q(q).QueryRowContext(ctx, stmt, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("read meta "+name, err)
	}
	return value.String, true, nil
}

// SetMeta writes a metadata value, replacing any previous one.
func (s *Store) SetMeta(ctx context.Context, q Querier, name, value string) error {
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		querysql.Quote(schema.TableMeta), querysql.Quote("value"), s.dialect.Placeholder(1),
		querysql.Quote("name"), s.dialect.Placeholder(2))
	res, err := s.q(q).ExecContext(ctx, stmt, value, name)
	if err != nil {
		return classify("write meta "+name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, err := s.InsertRow(ctx, q, schema.TableMeta, Values{"name": name, "value": value}); err != nil {
		return fmt.Errorf("write meta %s: %w", name, err)
	}
	return nil
}

// NextBatchNumber hands out the current sync_batch_num and advances the
// stored counter by one. Run it in the same transaction that stages the
// batch so a number is never handed out twice.
func (s *Store) NextBatchNumber(ctx context.Context, q Querier) (int64, error) {
	raw, ok, err := s.GetMeta(ctx, q, MetaSyncBatchNum)
	if err != nil {
		return 0, err
	}
	n := int64(1)
	if ok {
		if n, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return 0, Errorf(ErrCodeStore, "corrupt %s value %q", MetaSyncBatchNum, raw)
		}
	}
	if err := s.SetMeta(ctx, q, MetaSyncBatchNum, strconv.FormatInt(n+1, 10)); err != nil {
		return 0, err
	}
	return n, nil
}

// CloneMarker returns the provenance marker. A store without one is not a
// clone and yields ErrNotAClone.
func (s *Store) CloneMarker(ctx context.Context, q Querier) (int64, error) {
	raw, ok, err := s.GetMeta(ctx, q, MetaCloneHistoryID)
	if err != nil {
		return 0, err
	}
	if !ok || raw == "" {
		return 0, ErrNotAClone
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &Error{Code: ErrCodeProvenance, Message: ErrNotAClone.Message, Detail: fmt.Sprintf("marker %q is not an integer", raw), Err: err}
	}
	return id, nil
}
