package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertRow_ReturnsGeneratedID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.InsertRow(ctx, nil, "family", Values{"family": "Rosaceae"})
	require.NoError(t, err)
	second, err := s.InsertRow(ctx, nil, "family", Values{"family": "Fabaceae"})
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	row, ok, err := s.SelectRow(ctx, nil, "family", second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Fabaceae", row["family"])
	assert.Equal(t, second, row["id"])
	assert.Nil(t, row["qualifier"])
	assert.NotNil(t, row["_created"], "default timestamp")
}

func TestInsertRow_UnknownTable(t *testing.T) {
	s := createTestStore(t)

	_, err := s.InsertRow(context.Background(), nil, "nope", Values{"a": 1})
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
}

func TestInsertRow_ForeignKeyViolationIsConflict(t *testing.T) {
	s := createTestStore(t)

	_, err := s.InsertRow(context.Background(), nil, "genus", Values{"genus": "Rosa", "family_id": 999})
	require.Error(t, err)
	assert.True(t, IsConstraintConflict(err), "got %v", err)

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.NotEmpty(t, de.Detail)
}

func TestInsertRow_UniqueViolationIsConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.InsertRow(ctx, nil, "family", Values{"family": "Rosaceae"})
	require.NoError(t, err)
	_, err = s.InsertRow(ctx, nil, "family", Values{"family": "Rosaceae"})
	assert.True(t, IsConstraintConflict(err), "got %v", err)
}

func TestInsertRow_CoercesColumnTypes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	locID, err := s.InsertRow(ctx, nil, "location", Values{"code": "GH1", "name": "Greenhouse"})
	require.NoError(t, err)
	famID, _ := s.InsertRow(ctx, nil, "family", Values{"family": "Rosaceae"})
	genID, _ := s.InsertRow(ctx, nil, "genus", Values{"genus": "Rosa", "family_id": famID})
	spID, err := s.InsertRow(ctx, nil, "species", Values{"epithet": "canina", "genus_id": genID})
	require.NoError(t, err)

	id, err := s.InsertRow(ctx, nil, "plant", Values{
		"code":        "2024.0001",
		"quantity":    float64(3),
		"species_id":  spID,
		"location_id": locID,
		"planted":     "2024-05-01T12:00:00Z",
		"geojson":     map[string]any{"type": "Point", "coordinates": []any{int64(1), int64(2)}},
	})
	require.NoError(t, err)

	row, ok, err := s.SelectRow(ctx, nil, "plant", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), row["quantity"])
	assert.True(t, ValuesEqual(row["planted"], testTime))
	assert.Equal(t, `{"coordinates":[1,2],"type":"Point"}`, row["geojson"])
}

func TestUpdateAndDeleteRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.InsertRow(ctx, nil, "tag", Values{"tag": "rare"})
	require.NoError(t, err)

	n, err := s.UpdateRow(ctx, nil, "tag", id, Values{"description": "hard to find"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.UpdateRow(ctx, nil, "tag", id+100, Values{"description": "x"})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.DeleteRow(ctx, nil, "tag", id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteRow(ctx, nil, "tag", id)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok, err := s.SelectRow(ctx, nil, "tag", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBulkInsertAndStreamRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cols := []string{"id", "family"}
	rows := [][]any{{int64(5), "Rosaceae"}, {int64(9), "Fabaceae"}, {int64(7), "Poaceae"}}
	require.NoError(t, s.BulkInsert(ctx, nil, "family", cols, rows))

	var ids []int64
	err := s.StreamRows(ctx, nil, "family", func(row []any) error {
		ids = append(ids, row[0].(int64))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 7, 9}, ids)

	count, err := s.CountRows(ctx, nil, "family")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// auto increment continues past explicit ids
	require.NoError(t, s.ResetSequences(ctx, nil))
	next, err := s.InsertRow(ctx, nil, "family", Values{"family": "Asteraceae"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), next)
}

func TestBulkInsert_RowWidthMismatch(t *testing.T) {
	s := createTestStore(t)

	err := s.BulkInsert(context.Background(), nil, "family", []string{"id", "family"}, [][]any{{int64(1)}})
	assert.Error(t, err)
}

func TestBulkInsert_Empty(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.BulkInsert(context.Background(), nil, "family", []string{"id"}, nil))
}
