package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/synclone/internal/schema"
)

// Values maps column names to column values. In update log entries a
// changed column holds a two element []any{new, old}.
type Values map[string]any

// Clone returns a deep copy of v.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = cloneValue(val)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}

// Pair returns the [new, old] elements of an update column value.
func Pair(v any) (newVal, oldVal any, ok bool) {
	p, ok := v.([]any)
	if !ok || len(p) != 2 {
		return nil, nil, false
	}
	return p[0], p[1], true
}

// MarshalValues encodes v as canonical JSON: keys sorted, strings NFC
// normalised, no HTML escaping, datetimes as RFC 3339.
func MarshalValues(v Values) (string, error) {
	data, err := marshalCanonical(map[string]any(v))
	if err != nil {
		return "", fmt.Errorf("marshal values: %w", err)
	}
	return string(data), nil
}

// UnmarshalValues decodes canonical JSON produced by MarshalValues. Integral
// numbers decode as int64 so ids survive the round trip unchanged.
func UnmarshalValues(data string) (Values, error) {
	if data == "" {
		return Values{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	out := make(Values, len(raw))
	for k, v := range raw {
		out[k] = fromJSON(v)
	}
	return out, nil
}

func fromJSON(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = fromJSON(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = fromJSON(val[k])
		}
		return val
	default:
		return val
	}
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := fromDriver(v).(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return marshalCanonicalString(val)
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("non-finite number %v", val)
		}
		return []byte(strconv.FormatFloat(val, 'g', -1, 64)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case time.Time:
		return marshalCanonicalString(val.Format(time.RFC3339Nano))
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalCanonical(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalCanonicalString(k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalCanonical(val[k])
			if err != nil {
				return nil, fmt.Errorf("value for key %q: %w", k, err)
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported type for values: %T", v)
	}
}

func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// fromDriver normalises values returned by database drivers and decoders
// to nil, int64, float64, bool, string, time.Time, []any or map[string]any.
func fromDriver(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case float32:
		return float64(val)
	case json.Number:
		return fromJSON(val)
	case Values:
		return map[string]any(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return *val
	default:
		return val
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses the datetime representations found in captured values.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValuesEqual reports whether a live column value read from a store equals a
// captured value decoded from a log entry. Driver and JSON representations
// differ (int32 against int64, time.Time against RFC 3339 text, booleans
// stored as integers), so both sides are normalised first.
func ValuesEqual(live, captured any) bool {
	a, b := fromDriver(live), fromDriver(captured)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		return timeEqual(ta, b)
	}
	if tb, ok := b.(time.Time); ok {
		return timeEqual(tb, a)
	}
	sa, aText := a.(string)
	sb, bText := b.(string)
	if aText && bText {
		return norm.NFC.String(sa) == norm.NFC.String(sb)
	}
	if na, ok := number(a); ok {
		if nb, ok := number(b); ok {
			return na == nb
		}
		return false
	}
	switch va := a.(type) {
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !ValuesEqual(va[i], vb[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		ab, err1 := marshalCanonical(va)
		bb, err2 := marshalCanonical(b)
		return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
	}
	return false
}

func timeEqual(t time.Time, other any) bool {
	switch o := other.(type) {
	case time.Time:
		return t.Equal(o)
	case string:
		parsed, ok := ParseTime(o)
		return ok && t.Equal(parsed)
	}
	return false
}

// number converts numeric and boolean values to float64 for comparison.
// Numeric strings are accepted because SQLite may hand back text affinity;
// ValuesEqual never compares two strings numerically.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// coerce converts a captured value into the form the driver expects for col.
func coerce(col schema.Column, v any) (any, error) {
	v = fromDriver(v)
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case schema.TypeDateTime:
		if s, ok := v.(string); ok {
			t, ok := ParseTime(s)
			if !ok {
				return nil, fmt.Errorf("column %s: cannot parse %q as datetime", col.Name, s)
			}
			return t, nil
		}
	case schema.TypeInteger:
		switch n := v.(type) {
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i, nil
			}
		}
	case schema.TypeBoolean:
		switch n := v.(type) {
		case int64:
			return n != 0, nil
		case string:
			if b, err := strconv.ParseBool(n); err == nil {
				return b, nil
			}
		}
	case schema.TypeJSON:
		switch v.(type) {
		case string:
		default:
			data, err := marshalCanonical(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
			return string(data), nil
		}
	}
	return v, nil
}
