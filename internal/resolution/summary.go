package resolution

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/synclone/internal/schema"
	"github.com/roach88/synclone/internal/store"
)

// hidden columns never appear in a summary.
var hidden = map[string]bool{
	schema.ColumnCreated:     true,
	schema.ColumnLastUpdated: true,
	"geojson":                true,
}

// Summary renders values on one line: id first, changed [new, old] pairs
// next, then the remaining values, nulls last. Keys sort alphabetically
// within each group.
func Summary(values store.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !hidden[k] {
			keys = append(keys, k)
		}
	}
	rank := func(k string) int {
		v := values[k]
		switch {
		case k == schema.ColumnID:
			return 0
		case isList(v):
			return 1
		case v == nil:
			return 3
		}
		return 2
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + display(values[k])
	}
	return strings.Join(parts, ", ")
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return "''"
	case string:
		if x == "" {
			return "''"
		}
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case []any:
		parts := make([]string, len(x))
		for i, el := range x {
			if el == nil {
				parts[i] = "null"
			} else {
				parts[i] = display(el)
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(v)
}

// ParseValue converts text typed by a user into a value for column col of
// table. An empty string is null for nullable columns.
func ParseValue(table *schema.Table, col, text string) (any, error) {
	c, ok := table.Column(col)
	if !ok {
		return nil, store.Errorf(store.ErrCodeConfiguration, "table %s has no column %q", table.Name, col)
	}
	if text == "" && c.Nullable {
		return nil, nil
	}
	invalid := func(err error) error {
		return &store.Error{
			Code:    store.ErrCodeConfiguration,
			Message: fmt.Sprintf("invalid %s value for %s", c.Type, col),
			Detail:  text,
			Err:     err,
		}
	}
	switch c.Type {
	case schema.TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, invalid(err)
		}
		return n, nil
	case schema.TypeReal:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, invalid(err)
		}
		return f, nil
	case schema.TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return nil, invalid(err)
		}
		return b, nil
	case schema.TypeDateTime:
		if _, ok := store.ParseTime(text); !ok {
			return nil, invalid(nil)
		}
	}
	return text, nil
}
