package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/synclone/internal/store"
	tu "github.com/roach88/synclone/internal/testutil"
)

// stage queues one change in s under batch 1 and returns it as loaded.
func stage(t *testing.T, s *store.Store, table string, rowID int64, op store.Operation, values store.Values) store.StagedChange {
	t.Helper()
	ctx := context.Background()
	id, err := s.InsertStaged(ctx, nil, 1, store.ChangeLogEntry{
		Table:     table,
		RowID:     rowID,
		Operation: op,
		Values:    values,
		User:      "field",
		Timestamp: tu.Epoch,
	})
	require.NoError(t, err)
	ch, ok, err := s.GetStaged(ctx, nil, id)
	require.NoError(t, err)
	require.True(t, ok)
	return ch
}

func stagedIDs(t *testing.T, s *store.Store) []int64 {
	t.Helper()
	rows, err := s.ListStaged(context.Background(), nil, store.StagedFilter{})
	require.NoError(t, err)
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

// scripted answers conflicts from a list, repeating the last answer.
type scripted struct {
	decisions []Decision
	edit      func(*Conflict)
	abort     bool
	reclone   bool

	conflicts []string
	offered   []string
	asked     int
}

func (s *scripted) Resolve(_ context.Context, c *Conflict) Decision {
	s.conflicts = append(s.conflicts, c.Message)
	if s.edit != nil {
		s.edit(c)
	}
	d := s.decisions[0]
	if len(s.decisions) > 1 {
		s.decisions = s.decisions[1:]
	}
	return d
}

func (s *scripted) ConfirmAbort(context.Context) bool {
	s.asked++
	return s.abort
}

func (s *scripted) OfferReclone(_ context.Context, uri string) bool {
	s.offered = append(s.offered, uri)
	return s.reclone
}
