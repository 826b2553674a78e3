package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/synclone/internal/clone"
	"github.com/roach88/synclone/internal/store"
	tu "github.com/roach88/synclone/internal/testutil"
)

// cloned returns an origin with one family and a clone of it.
func cloned(t *testing.T) (origin, remote *store.Store, clock *tu.FixedClock) {
	t.Helper()
	ctx := context.Background()
	origin = tu.NewStore(t, "origin")
	clock = tu.NewFixedClock()
	tu.Insert(t, origin, clock, "admin", "family", store.Values{"family": "Rosaceae"})

	remote = tu.NewStore(t, "remote")
	_, err := clone.New(origin).Run(ctx, remote, nil)
	require.NoError(t, err)
	return origin, remote, clock
}

func TestAddBatch_StagesDeltaSinceMarker(t *testing.T) {
	ctx := context.Background()
	origin, remote, clock := cloned(t)

	gen := tu.Insert(t, remote, clock, "field", "genus", store.Values{"genus": "Rosa", "family_id": int64(1)})
	tu.Update(t, remote, clock, "field", "genus", gen, store.Values{"author": "L."})

	b, err := New(origin, nil).AddBatch(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Number)
	assert.Equal(t, 2, b.Count)
	assert.Equal(t, int64(1), b.Marker)

	staged, err := origin.ListStaged(ctx, nil, store.StagedFilter{})
	require.NoError(t, err)
	require.Len(t, staged, 2)
	assert.Equal(t, store.OpInsert, staged[0].Operation)
	assert.Equal(t, "genus", staged[0].Table)
	assert.Equal(t, gen, staged[0].RowID)
	assert.Equal(t, "field", staged[0].User)
	assert.Equal(t, store.OpUpdate, staged[1].Operation)
	assert.Equal(t, []any{"L.", nil}, staged[1].Values["author"])
	for _, s := range staged {
		assert.Equal(t, int64(1), s.BatchNumber)
	}

	uri, ok, err := origin.GetMeta(ctx, nil, store.MetaLastPullURI)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, remote.URI(), uri)
}

func TestAddBatch_EachCallTakesNextNumber(t *testing.T) {
	ctx := context.Background()
	origin, remote, clock := cloned(t)
	c := New(origin, nil)

	tu.Insert(t, remote, clock, "field", "tag", store.Values{"tag": "a"})
	first, err := c.AddBatch(ctx, remote)
	require.NoError(t, err)

	tu.Insert(t, remote, clock, "field", "tag", store.Values{"tag": "b"})
	second, err := c.AddBatch(ctx, remote)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Number)
	assert.Equal(t, int64(2), second.Number)
	// the marker does not move, so the second pull sees both entries again
	assert.Equal(t, 2, second.Count)

	counter, _, err := origin.GetMeta(ctx, nil, store.MetaSyncBatchNum)
	require.NoError(t, err)
	assert.Equal(t, "3", counter)

	batch2, err := origin.ListStaged(ctx, nil, store.StagedFilter{Batch: 2})
	require.NoError(t, err)
	assert.Len(t, batch2, 2)
}

func TestAddBatch_EmptyDeltaStillNumbered(t *testing.T) {
	origin, remote, _ := cloned(t)

	b, err := New(origin, nil).AddBatch(context.Background(), remote)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Number)
	assert.Zero(t, b.Count)
}

func TestAddBatch_NotAClone(t *testing.T) {
	ctx := context.Background()
	origin := tu.NewStore(t, "origin")
	stranger := tu.NewStore(t, "stranger")

	_, err := New(origin, nil).AddBatch(ctx, stranger)
	require.Error(t, err)
	assert.True(t, store.IsProvenance(err))
	assert.Contains(t, err.Error(), "Does not seem to be a clone.")

	_, ok, err := origin.GetMeta(ctx, nil, store.MetaSyncBatchNum)
	require.NoError(t, err)
	assert.False(t, ok, "no batch number is consumed")
}

func TestAddBatchFromURI(t *testing.T) {
	ctx := context.Background()
	origin, remote, clock := cloned(t)
	tu.Insert(t, remote, clock, "field", "location", store.Values{"code": "GH"})
	uri := remote.URI()
	require.NoError(t, remote.Close())

	b, err := New(origin, nil).AddBatchFromURI(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Count)
	assert.Equal(t, uri, b.URI)
}

func TestAddBatchFromURI_RefusesOrigin(t *testing.T) {
	origin := tu.NewStore(t, "origin")

	_, err := New(origin, nil).AddBatchFromURI(context.Background(), origin.URI())
	assert.True(t, store.IsConfiguration(err))
}

func TestAddBatch_NoConnection(t *testing.T) {
	_, err := New(nil, nil).AddBatchFromURI(context.Background(), "x.db")
	assert.True(t, store.IsConfiguration(err))
}
