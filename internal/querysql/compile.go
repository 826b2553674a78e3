package querysql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/synclone/internal/schema"
)

// Quote returns ident as a double-quoted SQL identifier. Both supported
// engines accept this form, and it is required for column names such as
// "values" and "user".
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// SortedKeys returns the keys of m in ascending order so generated
// statements are deterministic.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quoteAll(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = Quote(c)
	}
	return strings.Join(parts, ", ")
}

func placeholders(d Dialect, start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// Insert builds a single-row insert for cols. When the dialect cannot report
// the last insert id the statement returns the id column.
func Insert(d Dialect, table string, cols []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(Quote(table))
	if len(cols) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		fmt.Fprintf(&b, " (%s) VALUES (%s)", quoteAll(cols), placeholders(d, 1, len(cols)))
	}
	if d.ReturningID() {
		b.WriteString(" RETURNING ")
		b.WriteString(Quote(schema.ColumnID))
	}
	return b.String()
}

// BulkInsert builds a multi-row insert of rows rows over cols. Arguments are
// expected row-major.
func BulkInsert(d Dialect, table string, cols []string, rows int) (string, error) {
	if len(cols) == 0 || rows < 1 {
		return "", fmt.Errorf("bulk insert into %s: need at least one column and one row", table)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", Quote(table), quoteAll(cols))
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(placeholders(d, r*len(cols)+1, len(cols)))
		b.WriteString(")")
	}
	return b.String(), nil
}

// Update builds an update of cols on the row whose id is the final argument.
func Update(d Dialect, table string, cols []string) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("update %s: no columns", table)
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", Quote(c), d.Placeholder(i+1))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		Quote(table), strings.Join(sets, ", "), Quote(schema.ColumnID), d.Placeholder(len(cols)+1)), nil
}

// DeleteByID builds a delete of one row by id.
func DeleteByID(d Dialect, table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", Quote(table), Quote(schema.ColumnID), d.Placeholder(1))
}

// SelectByID builds a select of cols for one row by id.
func SelectByID(d Dialect, table string, cols []string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		quoteAll(cols), Quote(table), Quote(schema.ColumnID), d.Placeholder(1))
}

// SelectAll builds a full scan of cols ordered by id, so every read of a
// table streams rows in the same order.
func SelectAll(table string, cols []string) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC", quoteAll(cols), Quote(table), Quote(schema.ColumnID))
}

// Count builds a row count.
func Count(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", Quote(table))
}

// Max builds a select of the maximum of col.
func Max(table, col string) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s", Quote(col), Quote(table))
}

// CreateTable builds the DDL for t.
func CreateTable(d Dialect, t *schema.Table) string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		defs = append(defs, columnDef(d, c))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", Quote(t.Name), strings.Join(defs, ",\n\t"))
}

func columnDef(d Dialect, c schema.Column) string {
	if c.PrimaryKey {
		return Quote(c.Name) + " " + d.PrimaryKey()
	}
	var b strings.Builder
	b.WriteString(Quote(c.Name))
	b.WriteString(" ")
	b.WriteString(d.ColumnType(c.Type))
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.DefaultNow {
		b.WriteString(" DEFAULT ")
		b.WriteString(d.Now())
	}
	if c.References != "" {
		fmt.Fprintf(&b, " REFERENCES %s (%s)", Quote(c.References), Quote(schema.ColumnID))
	}
	return b.String()
}

// DropTable builds a drop that tolerates a missing table.
func DropTable(d Dialect, table string) string {
	stmt := "DROP TABLE IF EXISTS " + Quote(table)
	if d.CascadeDrop() {
		stmt += " CASCADE"
	}
	return stmt
}
