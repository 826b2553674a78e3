package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/synclone/internal/schema"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testTime }

// createTestStore creates a new file-backed store with the default schema.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, schema.Default())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}
	return s
}
