package resolution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/synclone/internal/clone"
	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/store"
	tu "github.com/roach88/synclone/internal/testutil"
)

// fieldTrip clones an origin, records edits on the clone and pulls them
// into the origin as batch 1.
func fieldTrip(t *testing.T) (*Center, *store.Store) {
	t.Helper()
	ctx := context.Background()
	clock := tu.NewFixedClock()
	origin := tu.NewStore(t, "origin")
	tu.Insert(t, origin, clock, "admin", "family", store.Values{"family": "Rosaceae"})

	remoteURI := tu.StoreURI(t, "remote")
	remote := tu.OpenStore(t, remoteURI)
	_, err := clone.New(origin).Run(ctx, remote, nil)
	require.NoError(t, err)

	fam := tu.Insert(t, remote, clock, "field", "family", store.Values{"family": "Fagaceae"})
	tu.Insert(t, remote, clock, "field", "genus", store.Values{"genus": "Quercus", "family_id": fam})
	tu.Insert(t, remote, clock, "field", "location", store.Values{"code": "GH"})
	tu.Update(t, remote, clock, "field", "family", 1, store.Values{"qualifier": "s. lat."})

	c := New(origin)
	b, err := c.Pull(ctx, remoteURI)
	require.NoError(t, err)
	require.Equal(t, int64(1), b.Number)
	require.Equal(t, 4, b.Count)
	return c, remote
}

func TestList_NewestFirst(t *testing.T) {
	c, _ := fieldTrip(t)

	items, err := c.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, "family", items[0].Table)
	assert.Equal(t, store.OpUpdate, items[0].Operation)
	assert.Equal(t, "location", items[1].Table)
	assert.Greater(t, items[0].ID, items[3].ID)
	assert.Equal(t, "field", items[3].User)
	assert.Equal(t, int64(1), items[3].Batch)
	assert.Contains(t, items[0].Summary, "qualifier: [s. lat., null]")

	none, err := c.List(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	c, _ := fieldTrip(t)
	all, err := c.SelectAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	batch, err := c.SelectBatch(ctx, all[2])
	require.NoError(t, err)
	assert.Equal(t, all, batch)

	// the family insert is referenced by the genus insert
	related, err := c.SelectRelated(ctx, all[0])
	require.NoError(t, err)
	assert.Equal(t, []int64{all[0], all[1]}, related)

	// the family update is to remote row 1, which nothing staged references
	related, err = c.SelectRelated(ctx, all[3])
	require.NoError(t, err)
	assert.Equal(t, []int64{all[3]}, related)

	_, err = c.SelectRelated(ctx, 999)
	assert.True(t, store.IsConfiguration(err))
}

func TestEdit_PersistsAndKeepsPairs(t *testing.T) {
	ctx := context.Background()
	c, _ := fieldTrip(t)
	all, err := c.SelectAll(ctx)
	require.NoError(t, err)

	ch, err := c.EditText(ctx, all[3], map[string]string{"qualifier": "s. str."})
	require.NoError(t, err)
	assert.Equal(t, []any{"s. str.", nil}, ch.Values["qualifier"])

	stored, ok, err := c.Origin().GetStaged(ctx, nil, all[3])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{"s. str.", nil}, stored.Values["qualifier"])

	ch, err = c.EditText(ctx, all[1], map[string]string{"family_id": "1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ch.Values["family_id"])

	_, err = c.EditText(ctx, all[1], map[string]string{"family_id": "one"})
	assert.True(t, store.IsConfiguration(err))
	_, err = c.EditText(ctx, all[1], map[string]string{"colour": "red"})
	assert.True(t, store.IsConfiguration(err))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c, _ := fieldTrip(t)
	all, err := c.SelectAll(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, all[0], all[1]))
	left, err := c.SelectAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, all[2:], left)
}

func TestSync_SubsetThenReclone(t *testing.T) {
	ctx := context.Background()
	c, remote := fieldTrip(t)
	all, err := c.SelectAll(ctx)
	require.NoError(t, err)

	rep, err := c.Sync(ctx, all[2:3], replay.PolicyResolver{Decision: replay.Skip}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(replay.OutcomeApplied))
	assert.Equal(t, int64(1), tu.Count(t, c.Origin(), "location"))

	// the rest syncs cleanly and the origin is cloned back to the remote
	rep, err = c.Sync(ctx, nil, replay.PolicyResolver{Decision: replay.Skip, Reclone: true}, nil)
	require.NoError(t, err)
	assert.True(t, rep.Clean())
	assert.Equal(t, remote.URI(), rep.Reclone)

	assert.Equal(t, "s. lat.", tu.Row(t, c.Origin(), "family", 1)["qualifier"])
	assert.Equal(t, int64(2), tu.Count(t, remote, "family"))
	marker, err := remote.CloneMarker(ctx, nil)
	require.NoError(t, err)
	maxID, _, err := c.Origin().MaxHistoryID(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, maxID, marker)
}

func TestCenter_NoConnection(t *testing.T) {
	_, err := New(nil).List(context.Background(), 0)
	assert.True(t, store.IsConfiguration(err))
	assert.True(t, store.IsConfiguration(New(nil).Remove(context.Background(), 1)))
}
