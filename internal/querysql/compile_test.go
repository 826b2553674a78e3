package querysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/synclone/internal/schema"
)

func TestQuote(t *testing.T) {
	assert.Equal(t, `"values"`, Quote("values"))
	assert.Equal(t, `"we""ird"`, Quote(`we"ird`))
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]any{"c": 1, "a": 2, "b": 3}))
	assert.Empty(t, SortedKeys(map[string]int{}))
}

func TestInsert(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		cols    []string
		want    string
	}{
		{
			name:    "sqlite",
			dialect: SQLite{},
			cols:    []string{"family_id", "genus"},
			want:    `INSERT INTO "genus" ("family_id", "genus") VALUES (?, ?)`,
		},
		{
			name:    "postgres returns id",
			dialect: Postgres{},
			cols:    []string{"family_id", "genus"},
			want:    `INSERT INTO "genus" ("family_id", "genus") VALUES ($1, $2) RETURNING "id"`,
		},
		{
			name:    "no columns",
			dialect: SQLite{},
			want:    `INSERT INTO "genus" DEFAULT VALUES`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Insert(tt.dialect, "genus", tt.cols))
		})
	}
}

func TestBulkInsert(t *testing.T) {
	got, err := BulkInsert(Postgres{}, "family", []string{"id", "family"}, 3)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "family" ("id", "family") VALUES ($1, $2), ($3, $4), ($5, $6)`, got)

	got, err = BulkInsert(SQLite{}, "family", []string{"id"}, 2)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "family" ("id") VALUES (?), (?)`, got)

	_, err = BulkInsert(SQLite{}, "family", nil, 2)
	assert.Error(t, err)
	_, err = BulkInsert(SQLite{}, "family", []string{"id"}, 0)
	assert.Error(t, err)
}

func TestUpdate(t *testing.T) {
	got, err := Update(Postgres{}, "genus", []string{"author", "genus"})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "genus" SET "author" = $1, "genus" = $2 WHERE "id" = $3`, got)

	_, err = Update(SQLite{}, "genus", nil)
	assert.Error(t, err)
}

func TestDeleteAndSelect(t *testing.T) {
	assert.Equal(t, `DELETE FROM "genus" WHERE "id" = $1`, DeleteByID(Postgres{}, "genus"))
	assert.Equal(t, `SELECT "id", "genus" FROM "genus" WHERE "id" = ?`, SelectByID(SQLite{}, "genus", []string{"id", "genus"}))
	assert.Equal(t, `SELECT "id" FROM "genus" ORDER BY "id" ASC`, SelectAll("genus", []string{"id"}))
	assert.Equal(t, `SELECT COUNT(*) FROM "genus"`, Count("genus"))
	assert.Equal(t, `SELECT MAX("id") FROM "history"`, Max("history", "id"))
}

func TestCreateTable(t *testing.T) {
	genus, ok := schema.Default().Table("genus")
	require.True(t, ok)

	sqlite := CreateTable(SQLite{}, genus)
	assert.True(t, strings.HasPrefix(sqlite, `CREATE TABLE IF NOT EXISTS "genus" (`))
	assert.Contains(t, sqlite, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	assert.Contains(t, sqlite, `"_created" TIMESTAMP DEFAULT CURRENT_TIMESTAMP`)
	assert.Contains(t, sqlite, `"family_id" INTEGER NOT NULL REFERENCES "family" ("id")`)
	assert.Contains(t, sqlite, `"author" TEXT,`)

	pg := CreateTable(Postgres{}, genus)
	assert.Contains(t, pg, `"id" SERIAL PRIMARY KEY`)
	assert.Contains(t, pg, `"_last_updated" TIMESTAMPTZ DEFAULT now()`)
}

func TestDropTable(t *testing.T) {
	assert.Equal(t, `DROP TABLE IF EXISTS "genus"`, DropTable(SQLite{}, "genus"))
	assert.Equal(t, `DROP TABLE IF EXISTS "genus" CASCADE`, DropTable(Postgres{}, "genus"))
}

func TestResetSequence(t *testing.T) {
	_, ok := SQLite{}.ResetSequence("genus")
	assert.False(t, ok)

	stmt, ok := Postgres{}.ResetSequence("genus")
	require.True(t, ok)
	assert.Equal(t, `SELECT setval(pg_get_serial_sequence('"genus"', 'id'), COALESCE(MAX("id"), 0) + 1, false) FROM "genus"`, stmt)
}
