package schema

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed default.cue
var defaultCUE []byte

// LoadError reports a malformed schema document.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the built-in collection schema.
func Default() *Schema {
	s, err := ParseCUE("default.cue", defaultCUE)
	if err != nil {
		panic(fmt.Sprintf("built-in schema: %v", err))
	}
	return s
}

// LoadCUE reads a schema from a CUE file. An empty path yields Default().
func LoadCUE(path string) (*Schema, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return ParseCUE(path, src)
}

// ParseCUE compiles a CUE schema document of the form
//
//	tables: {
//		genus: columns: {
//			genus:     {type: "text"}
//			family_id: {type: "integer", references: "family"}
//		}
//	}
//	polymorphic: [{table: "...", type_column: "...", id_column: "...", targets: {Tag: "table"}}]
//
// Table order in the document is the tie-breaker for dependency ordering.
func ParseCUE(filename string, src []byte) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, &LoadError{Field: "tables", Message: "tables is required", Pos: v.Pos()}
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var tables []*Table
	for iter.Next() {
		t, err := parseTable(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}

	var poly []Polymorphic
	polyVal := v.LookupPath(cue.ParsePath("polymorphic"))
	if polyVal.Exists() {
		list, err := polyVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			p, err := parsePolymorphic(list.Value())
			if err != nil {
				return nil, err
			}
			poly = append(poly, p)
		}
	}

	s, err := New(tables, poly)
	if err != nil {
		return nil, &LoadError{Field: "schema", Message: err.Error(), Pos: v.Pos()}
	}
	return s, nil
}

func parseTable(name string, v cue.Value) (*Table, error) {
	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return nil, &LoadError{Field: name, Message: "columns is required", Pos: v.Pos()}
	}
	iter, err := colsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var cols []Column
	for iter.Next() {
		colName := iter.Label()
		if IsSystemColumn(colName) {
			return nil, &LoadError{
				Field:   name + "." + colName,
				Message: "column is added implicitly",
				Pos:     iter.Value().Pos(),
			}
		}
		c, err := parseColumn(colName, iter.Value())
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return UserTable(name, cols...), nil
}

func parseColumn(name string, v cue.Value) (Column, error) {
	c := Column{Name: name}
	typ, err := v.LookupPath(cue.ParsePath("type")).String()
	if err != nil {
		return c, formatCUEError(err)
	}
	c.Type = ColumnType(typ)
	if !c.Type.Valid() {
		return c, &LoadError{Field: name, Message: fmt.Sprintf("unknown type %q", typ), Pos: v.Pos()}
	}
	if c.Nullable, err = optionalBool(v, "nullable"); err != nil {
		return c, err
	}
	if c.Unique, err = optionalBool(v, "unique"); err != nil {
		return c, err
	}
	if refVal := v.LookupPath(cue.ParsePath("references")); refVal.Exists() {
		if c.References, err = refVal.String(); err != nil {
			return c, formatCUEError(err)
		}
	}
	return c, nil
}

func parsePolymorphic(v cue.Value) (Polymorphic, error) {
	var p Polymorphic
	var err error
	for field, dst := range map[string]*string{
		"table":       &p.Table,
		"type_column": &p.TypeColumn,
		"id_column":   &p.IDColumn,
	} {
		if *dst, err = v.LookupPath(cue.ParsePath(field)).String(); err != nil {
			return p, formatCUEError(err)
		}
	}
	p.Targets = make(map[string]string)
	iter, err := v.LookupPath(cue.ParsePath("targets")).Fields()
	if err != nil {
		return p, formatCUEError(err)
	}
	for iter.Next() {
		target, err := iter.Value().String()
		if err != nil {
			return p, formatCUEError(err)
		}
		p.Targets[iter.Label()] = target
	}
	return p, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
