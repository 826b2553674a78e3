package harness

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %d -> %s", event.Seq, event.Operation, event.Table, event.RemoteID, event.Outcome)
			if event.Message != "" {
				fmt.Fprintf(&buf, " (%s)", event.Message)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// assertRowOutcome checks that a row of the table with the remote id ended
// with the expected outcome. An operation, when given, must match too.
func assertRowOutcome(trace []TraceEvent, a Assertion) error {
	var seen []string
	for _, event := range trace {
		if event.Table != a.Table || event.RemoteID != a.RemoteID {
			continue
		}
		if a.Operation != "" && string(event.Operation) != a.Operation {
			continue
		}
		if string(event.Outcome) == a.Outcome {
			return nil
		}
		seen = append(seen, string(event.Outcome))
	}

	actual := "row not found in trace"
	if len(seen) > 0 {
		actual = fmt.Sprintf("outcomes %v", seen)
	}
	return &AssertionError{
		Type:     AssertRowOutcome,
		Expected: fmt.Sprintf("%s %d with outcome %s", a.Table, a.RemoteID, a.Outcome),
		Actual:   actual,
		Trace:    trace,
	}
}

// assertOutcomeCount checks that exactly Count rows ended with Outcome.
func assertOutcomeCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if string(event.Outcome) == a.Outcome {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%d rows with outcome %s", a.Count, a.Outcome),
			Actual:   fmt.Sprintf("%d rows", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertIDMap checks one slot of the session's id map.
func assertIDMap(entries []replay.Entry, a Assertion) error {
	want := fmt.Sprintf("%s %d -> %d", a.Table, a.RemoteID, a.Local)
	if a.Skipped {
		want = fmt.Sprintf("%s %d skipped", a.Table, a.RemoteID)
	}
	for _, e := range entries {
		if e.Table != a.Table || e.Remote != a.RemoteID {
			continue
		}
		switch {
		case e.Local == nil && a.Skipped:
			return nil
		case e.Local != nil && !a.Skipped && *e.Local == a.Local:
			return nil
		case e.Local == nil:
			return &AssertionError{Type: AssertIDMap, Expected: want, Actual: "skipped"}
		default:
			return &AssertionError{Type: AssertIDMap, Expected: want, Actual: fmt.Sprintf("mapped to %d", *e.Local)}
		}
	}
	return &AssertionError{Type: AssertIDMap, Expected: want, Actual: "slot not set"}
}

// assertRowCount checks the number of rows in a table.
func assertRowCount(ctx context.Context, st *store.Store, a Assertion) error {
	n, err := st.CountRows(ctx, nil, a.Table)
	if err != nil {
		return fmt.Errorf("count %s: %w", a.Table, err)
	}
	if n != int64(a.Count) {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.Table),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	return nil
}

// assertFinalState checks that exactly one row of the table matches Where
// and that it holds the expected values (subset semantics).
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	// Build WHERE clause with parameterized SQL (never interpolate values)
	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %q", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Check for multiple matching rows (would indicate ambiguous assertion)
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := toValue(assertion.Expect[key])
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !store.ValuesEqual(actualValue, expectedValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
// A nil value matches NULL.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	clauses := make([]string, 0, len(where))
	args := make([]any, 0, len(where))

	for _, key := range sortedKeys(where) {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		v := toValue(where[key])
		if v == nil {
			clauses = append(clauses, fmt.Sprintf("%q IS NULL", key))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%q = ?", key))
		args = append(args, v)
	}

	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRowOutcome:
			err = assertRowOutcome(result.Trace, assertion)
		case AssertOutcomeCount:
			err = assertOutcomeCount(result.Trace, assertion)
		case AssertIDMap:
			err = assertIDMap(result.Report.IDMap, assertion)
		case AssertRowCount, AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertRowCount {
				err = assertRowCount(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
