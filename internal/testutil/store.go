// Package testutil holds helpers shared by package tests: deterministic
// clocks and throwaway stores.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/synclone/internal/schema"
	"github.com/roach88/synclone/internal/store"
)

// StoreURI returns a sqlite:// address for a fresh file under the test's
// temporary directory.
func StoreURI(t testing.TB, name string) string {
	t.Helper()
	return "sqlite://" + filepath.Join(t.TempDir(), name+".db")
}

// OpenStore opens uri with the default schema, creates its tables and
// closes it when the test ends.
func OpenStore(t testing.TB, uri string) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), uri, schema.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

// NewStore opens a fresh file-backed store named name.
func NewStore(t testing.TB, name string) *store.Store {
	t.Helper()
	return OpenStore(t, StoreURI(t, name))
}

// Insert records an insert through the store's Recorder and returns the
// new id.
func Insert(t testing.TB, s *store.Store, clock *FixedClock, user, table string, values store.Values) int64 {
	t.Helper()
	id, err := s.Recorder(user, clock.Now).Insert(context.Background(), table, values)
	require.NoError(t, err)
	return id
}

// Update records an update through the store's Recorder.
func Update(t testing.TB, s *store.Store, clock *FixedClock, user, table string, id int64, values store.Values) {
	t.Helper()
	_, err := s.Recorder(user, clock.Now).Update(context.Background(), table, id, values)
	require.NoError(t, err)
}

// Delete records a delete through the store's Recorder.
func Delete(t testing.TB, s *store.Store, clock *FixedClock, user, table string, id int64) {
	t.Helper()
	_, err := s.Recorder(user, clock.Now).Delete(context.Background(), table, id)
	require.NoError(t, err)
}

// Row reads one row and fails the test when it is missing.
func Row(t testing.TB, s *store.Store, table string, id int64) store.Values {
	t.Helper()
	row, ok, err := s.SelectRow(context.Background(), nil, table, id)
	require.NoError(t, err)
	require.True(t, ok, "%s %d missing", table, id)
	return row
}

// Count returns the number of rows in table.
func Count(t testing.TB, s *store.Store, table string) int64 {
	t.Helper()
	n, err := s.CountRows(context.Background(), nil, table)
	require.NoError(t, err)
	return n
}
