package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeta_GetSet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetMeta(ctx, nil, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetMeta(ctx, nil, "k", "v1"))
	require.NoError(t, s.SetMeta(ctx, nil, "k", "v2"))

	v, ok, err := s.GetMeta(ctx, nil, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	n, err := s.CountRows(ctx, nil, "meta")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "upsert keeps one row per key")
}

func TestNextBatchNumber_StartsAtOneAndAdvances(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextBatchNumber(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	v, _, err := s.GetMeta(ctx, nil, MetaSyncBatchNum)
	require.NoError(t, err)
	assert.Equal(t, "4", v)
}

func TestNextBatchNumber_Corrupt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMeta(ctx, nil, MetaSyncBatchNum, "abc"))
	_, err := s.NextBatchNumber(ctx, nil)
	assert.Error(t, err)
}

func TestCloneMarker(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.CloneMarker(ctx, nil)
	require.Error(t, err)
	assert.True(t, IsProvenance(err))
	assert.Contains(t, err.Error(), "Does not seem to be a clone.")

	require.NoError(t, s.SetMeta(ctx, nil, MetaCloneHistoryID, "0"))
	id, err := s.CloneMarker(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, id)

	require.NoError(t, s.SetMeta(ctx, nil, MetaCloneHistoryID, "x"))
	_, err = s.CloneMarker(ctx, nil)
	assert.True(t, IsProvenance(err))
}

func TestHistory_AppendSinceMax(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.MaxHistoryID(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	for i, table := range []string{"family", "genus", "species"} {
		_, err := s.AppendHistory(ctx, nil, ChangeLogEntry{
			Table:     table,
			RowID:     int64(i + 10),
			Values:    Values{"id": int64(i + 10), "name": "x"},
			Operation: OpInsert,
			User:      "alice",
			Timestamp: testTime,
		})
		require.NoError(t, err)
	}

	maxID, ok, err := s.MaxHistoryID(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), maxID)

	entries, err := s.HistorySince(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].ID)
	assert.Equal(t, "genus", entries[0].Table)
	assert.Equal(t, int64(11), entries[0].RowID)
	assert.Equal(t, OpInsert, entries[0].Operation)
	assert.Equal(t, "alice", entries[0].User)
	assert.True(t, testTime.Equal(entries[0].Timestamp))
	assert.Equal(t, Values{"id": int64(11), "name": "x"}, entries[0].Values)
	assert.Equal(t, int64(3), entries[1].ID)
}

func TestAppendHistory_RejectsUnknownOperation(t *testing.T) {
	s := createTestStore(t)

	_, err := s.AppendHistory(context.Background(), nil, ChangeLogEntry{Table: "family", Operation: "merge"})
	assert.True(t, IsConfiguration(err))
}

func TestStaged_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	entry := ChangeLogEntry{
		ID:        51,
		Table:     "genus",
		RowID:     10,
		Values:    Values{"genus": "Rosa", "family_id": int64(10)},
		Operation: OpInsert,
		User:      "bob",
		Timestamp: testTime,
	}
	id1, err := s.InsertStaged(ctx, nil, 1, entry)
	require.NoError(t, err)
	entry.Table, entry.RowID = "species", 4
	entry.Values = Values{"genus_id": int64(10)}
	id2, err := s.InsertStaged(ctx, nil, 2, entry)
	require.NoError(t, err)

	all, err := s.ListStaged(ctx, nil, StagedFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, id1, all[0].ID)
	assert.Equal(t, int64(1), all[0].BatchNumber)
	assert.Equal(t, "bob", all[0].User)
	assert.True(t, testTime.Equal(all[0].Timestamp), "remote timestamp kept")

	batch2, err := s.ListStaged(ctx, nil, StagedFilter{Batch: 2})
	require.NoError(t, err)
	require.Len(t, batch2, 1)
	assert.Equal(t, "species", batch2[0].Table)

	byID, err := s.ListStaged(ctx, nil, StagedFilter{IDs: []int64{id2}})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, id2, byID[0].ID)

	require.NoError(t, s.UpdateStagedValues(ctx, nil, id1, Values{"genus": "Rosa", "family_id": int64(2)}))
	got, ok, err := s.GetStaged(ctx, nil, id1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Values["family_id"])

	require.NoError(t, s.DeleteStaged(ctx, nil, id1))
	_, ok, err = s.GetStaged(ctx, nil, id1)
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.UpdateStagedValues(ctx, nil, id1, Values{})
	assert.True(t, IsConfiguration(err))
}

func TestRecorder_LogsEveryMutation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := s.Recorder("carol", fixedNow)

	id, err := rec.Insert(ctx, "family", Values{"family": "Rosaceae", "id": int64(99)})
	require.NoError(t, err)
	assert.NotEqual(t, int64(99), id, "explicit id is ignored")

	changed, err := rec.Update(ctx, "family", id, Values{"family": "Rosaceae"})
	require.NoError(t, err)
	assert.False(t, changed, "same value is not an update")

	changed, err = rec.Update(ctx, "family", id, Values{"family": "Rosaceæ", "qualifier": "s.l."})
	require.NoError(t, err)
	assert.True(t, changed)

	deleted, err := rec.Delete(ctx, "family", id)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = rec.Delete(ctx, "family", id)
	require.NoError(t, err)
	assert.False(t, deleted)

	entries, err := s.HistorySince(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, OpInsert, entries[0].Operation)
	assert.Equal(t, "Rosaceae", entries[0].Values["family"])
	assert.Equal(t, id, entries[0].Values["id"])
	assert.Equal(t, "carol", entries[0].User)

	upd := entries[1]
	assert.Equal(t, OpUpdate, upd.Operation)
	assert.Equal(t, []any{"Rosaceæ", "Rosaceae"}, upd.Values["family"])
	assert.Equal(t, []any{"s.l.", nil}, upd.Values["qualifier"])
	assert.Equal(t, id, upd.Values["id"], "unchanged columns are plain values")

	assert.Equal(t, OpDelete, entries[2].Operation)
	assert.Equal(t, "Rosaceæ", entries[2].Values["family"])
}

func TestRecorder_UpdateMissingRow(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Recorder("", nil).Update(context.Background(), "family", 1, Values{"family": "x"})
	assert.True(t, IsConfiguration(err))
}

func TestRecorder_UpdateNumericText(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := s.Recorder("carol", fixedNow)

	id, err := rec.Insert(ctx, "location", Values{"code": "0012"})
	require.NoError(t, err)

	changed, err := rec.Update(ctx, "location", id, Values{"code": "12"})
	require.NoError(t, err)
	assert.True(t, changed, "zero padding is a real text change")

	entries, err := s.HistorySince(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []any{"12", "0012"}, entries[1].Values["code"])
}
