package store

import (
	"context"
	"slices"

	"github.com/roach88/synclone/internal/querysql"
)

// EnsureSchema creates every table that does not exist yet. It is safe to
// call on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, t := range s.schema.Sorted() {
		if _, err := s.db.ExecContext(ctx, querysql.CreateTable(s.dialect, t)); err != nil {
			return classify("create table "+t.Name, err)
		}
	}
	return nil
}

// DropCreateSchema drops every table of the schema, referencing tables
// first, and recreates them empty. All data in the store is lost.
func (s *Store) DropCreateSchema(ctx context.Context) error {
	tables := s.schema.Sorted()
	for _, t := range slices.Backward(tables) {
		if _, err := s.db.ExecContext(ctx, querysql.DropTable(s.dialect, t.Name)); err != nil {
			return classify("drop table "+t.Name, err)
		}
	}
	return s.EnsureSchema(ctx)
}
