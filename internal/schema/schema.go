package schema

import (
	"fmt"
	"slices"
)

// ColumnType is the logical type of a column. Dialects map it to concrete
// engine types.
type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeText     ColumnType = "text"
	TypeReal     ColumnType = "real"
	TypeBoolean  ColumnType = "boolean"
	TypeDateTime ColumnType = "datetime"
	TypeJSON     ColumnType = "json"
)

// Valid reports whether t is one of the known column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeInteger, TypeText, TypeReal, TypeBoolean, TypeDateTime, TypeJSON:
		return true
	}
	return false
}

// Names of the columns every user table carries.
const (
	ColumnID          = "id"
	ColumnCreated     = "_created"
	ColumnLastUpdated = "_last_updated"
)

// Names of the bookkeeping tables present in every store.
const (
	TableMeta    = "meta"
	TableHistory = "history"
	TableToSync  = "to_sync"
)

// Column describes one table column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Unique   bool
	// References names the table whose id this column holds, if any.
	References string
	// PrimaryKey marks the auto-increment integer id column.
	PrimaryKey bool
	// DefaultNow gives datetime columns a current-timestamp default.
	DefaultNow bool
}

// Table describes one table.
type Table struct {
	Name    string
	Columns []Column
	// System tables hold store bookkeeping (metadata, change log, staged
	// changes) rather than user data.
	System bool
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasAutoIncrement reports whether the table has an auto-increment id.
func (t *Table) HasAutoIncrement() bool {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return true
		}
	}
	return false
}

// Polymorphic describes a type-tag + id column pair whose target table is
// resolved from the tag value.
type Polymorphic struct {
	Table      string
	TypeColumn string
	IDColumn   string
	// Targets maps tag values to table names.
	Targets map[string]string
}

// Schema is the set of tables shared by an origin store and its clones.
type Schema struct {
	tables      []*Table
	byName      map[string]*Table
	polymorphic []Polymorphic
	sorted      []*Table
}

// IsSystemColumn reports whether name is one of the columns that get fresh
// values on every write.
func IsSystemColumn(name string) bool {
	switch name {
	case ColumnID, ColumnCreated, ColumnLastUpdated:
		return true
	}
	return false
}

// UserTable builds a user table with the standard id and timestamp columns
// prepended to cols.
func UserTable(name string, cols ...Column) *Table {
	all := []Column{
		{Name: ColumnID, Type: TypeInteger, PrimaryKey: true},
		{Name: ColumnCreated, Type: TypeDateTime, Nullable: true, DefaultNow: true},
		{Name: ColumnLastUpdated, Type: TypeDateTime, Nullable: true, DefaultNow: true},
	}
	all = append(all, cols...)
	return &Table{Name: name, Columns: all}
}

// SystemTables returns the bookkeeping tables every store carries.
func SystemTables() []*Table {
	return []*Table{
		{
			Name:   TableMeta,
			System: true,
			Columns: []Column{
				{Name: ColumnID, Type: TypeInteger, PrimaryKey: true},
				{Name: "name", Type: TypeText, Unique: true},
				{Name: "value", Type: TypeText, Nullable: true},
			},
		},
		{
			Name:   TableHistory,
			System: true,
			Columns: []Column{
				{Name: ColumnID, Type: TypeInteger, PrimaryKey: true},
				{Name: "table_name", Type: TypeText},
				{Name: "table_id", Type: TypeInteger},
				{Name: "values", Type: TypeJSON},
				{Name: "operation", Type: TypeText},
				{Name: "user", Type: TypeText, Nullable: true},
				{Name: "timestamp", Type: TypeDateTime},
			},
		},
		{
			Name:   TableToSync,
			System: true,
			Columns: []Column{
				{Name: ColumnID, Type: TypeInteger, PrimaryKey: true},
				{Name: "batch_number", Type: TypeInteger},
				{Name: "table_name", Type: TypeText},
				{Name: "table_id", Type: TypeInteger},
				{Name: "values", Type: TypeJSON},
				{Name: "operation", Type: TypeText},
				{Name: "user", Type: TypeText, Nullable: true},
				{Name: "timestamp", Type: TypeDateTime},
			},
		},
	}
}

// New builds a schema from user tables and polymorphic associations. The
// bookkeeping tables are added automatically. Returns an error on duplicate
// names, dangling references or reference cycles.
func New(tables []*Table, poly []Polymorphic) (*Schema, error) {
	s := &Schema{byName: make(map[string]*Table)}
	for _, t := range append(SystemTables(), tables...) {
		if t.Name == "" {
			return nil, fmt.Errorf("table with empty name")
		}
		if _, dup := s.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		seen := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if seen[c.Name] {
				return nil, fmt.Errorf("table %q: duplicate column %q", t.Name, c.Name)
			}
			seen[c.Name] = true
			if !c.Type.Valid() {
				return nil, fmt.Errorf("table %q column %q: unknown type %q", t.Name, c.Name, c.Type)
			}
		}
		s.tables = append(s.tables, t)
		s.byName[t.Name] = t
	}
	for _, t := range s.tables {
		for _, c := range t.Columns {
			if c.References == "" {
				continue
			}
			if _, ok := s.byName[c.References]; !ok {
				return nil, fmt.Errorf("table %q column %q references unknown table %q", t.Name, c.Name, c.References)
			}
		}
	}
	for _, p := range poly {
		t, ok := s.byName[p.Table]
		if !ok {
			return nil, fmt.Errorf("polymorphic association on unknown table %q", p.Table)
		}
		if _, ok := t.Column(p.TypeColumn); !ok {
			return nil, fmt.Errorf("polymorphic association %s: unknown type column %q", p.Table, p.TypeColumn)
		}
		if _, ok := t.Column(p.IDColumn); !ok {
			return nil, fmt.Errorf("polymorphic association %s: unknown id column %q", p.Table, p.IDColumn)
		}
		for tag, target := range p.Targets {
			if _, ok := s.byName[target]; !ok {
				return nil, fmt.Errorf("polymorphic association %s: tag %q targets unknown table %q", p.Table, tag, target)
			}
		}
	}
	s.polymorphic = poly
	sorted, err := sortTables(s.tables)
	if err != nil {
		return nil, err
	}
	s.sorted = sorted
	return s, nil
}

// MustNew is New for statically known schemas.
func MustNew(tables []*Table, poly []Polymorphic) *Schema {
	s, err := New(tables, poly)
	if err != nil {
		panic(err)
	}
	return s
}

// Table returns the named table.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Tables returns all tables in declaration order, system tables first.
func (s *Schema) Tables() []*Table {
	return slices.Clone(s.tables)
}

// Sorted returns all tables in dependency order: every table comes after the
// tables it references.
func (s *Schema) Sorted() []*Table {
	return slices.Clone(s.sorted)
}

// Polymorphic returns the polymorphic association whose id column is column
// on table, if any.
func (s *Schema) Polymorphic(table, column string) (Polymorphic, bool) {
	for _, p := range s.polymorphic {
		if p.Table == table && p.IDColumn == column {
			return p, true
		}
	}
	return Polymorphic{}, false
}

// ReferencedTable resolves the table a foreign-key shaped column points at.
// For a polymorphic id column the type tag is read from values. The second
// return is false when the column is not a reference or the tag is unknown.
func (s *Schema) ReferencedTable(table, column string, values map[string]any) (string, bool) {
	t, ok := s.byName[table]
	if !ok {
		return "", false
	}
	if c, ok := t.Column(column); ok && c.References != "" {
		return c.References, true
	}
	p, ok := s.Polymorphic(table, column)
	if !ok {
		return "", false
	}
	tag := values[p.TypeColumn]
	// update entries carry [new, old] pairs
	if pair, ok := tag.([]any); ok && len(pair) > 0 {
		tag = pair[0]
	}
	name, ok := tag.(string)
	if !ok {
		return "", false
	}
	target, ok := p.Targets[name]
	return target, ok
}

// sortTables orders tables so that referenced tables precede referencing
// ones. Declaration order breaks ties.
func sortTables(tables []*Table) ([]*Table, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(tables))
	byName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	out := make([]*Table, 0, len(tables))
	var visit func(t *Table, path []string) error
	visit = func(t *Table, path []string) error {
		switch state[t.Name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("reference cycle: %v", append(path, t.Name))
		}
		state[t.Name] = visiting
		for _, c := range t.Columns {
			if c.References == "" || c.References == t.Name {
				continue
			}
			if err := visit(byName[c.References], append(path, t.Name)); err != nil {
				return err
			}
		}
		state[t.Name] = done
		out = append(out, t)
		return nil
	}
	for _, t := range tables {
		if err := visit(t, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}
