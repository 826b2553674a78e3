package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/synclone/internal/schema"
	"github.com/roach88/synclone/internal/store"
)

// Effect is what applying one staged change did to the origin.
type Effect int

const (
	// Applied means exactly one row was mutated and one history entry
	// appended.
	Applied Effect = iota
	// NoOp means the change was already reflected in the origin. Nothing
	// was written.
	NoOp
	// Skipped means the change depends on a skipped row. Nothing was
	// written and the change's own slot is now skipped.
	Skipped
)

func (e Effect) String() string {
	switch e {
	case Applied:
		return "applied"
	case NoOp:
		return "noop"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("Effect(%d)", int(e))
}

// Adapter translates one staged change into a mutation of the origin
// store. An Adapter is used for a single attempt; a retry after the values
// were edited builds a new one.
type Adapter struct {
	store  *store.Store
	ids    *IDMap
	change *store.StagedChange
	now    func() time.Time

	// id map updates held until Commit
	inserted *int64
	skip     bool
	localID  int64
}

// NewAdapter returns an Adapter for change. now stamps the replayed row and
// its history entry; nil means time.Now.
func NewAdapter(s *store.Store, ids *IDMap, change *store.StagedChange, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{store: s, ids: ids, change: change, now: now}
}

// LocalID returns the origin id of the changed row: the remote id remapped
// through the id map. skipped reports a skipped slot.
func (a *Adapter) LocalID() (id int64, skipped bool) {
	return a.ids.Resolve(a.change.Table, a.change.RowID)
}

// Values returns the captured columns with system columns stripped and
// every reference remapped through the id map. skipped is true when a
// referenced row was skipped.
func (a *Adapter) Values() (values store.Values, skipped bool) {
	values = make(store.Values, len(a.change.Values))
	for col, v := range a.change.Values {
		if !schema.IsSystemColumn(col) {
			values[col] = v
		}
	}
	sch := a.store.Schema()
	for col, v := range values {
		if v == nil {
			continue
		}
		target, ok := sch.ReferencedTable(a.change.Table, col, a.change.Values)
		if !ok {
			continue
		}
		remapped, skip := a.remap(target, v)
		if skip {
			return nil, true
		}
		values[col] = remapped
	}
	return values, false
}

// remap maps v, a reference into table, to its origin id. Lists are
// remapped element-wise. An update pair only skips on its new value.
func (a *Adapter) remap(table string, v any) (any, bool) {
	list, ok := v.([]any)
	if !ok {
		return a.remapOne(table, v)
	}
	out := make([]any, len(list))
	for i, el := range list {
		mapped, skip := a.remapOne(table, el)
		if skip {
			if a.change.Operation == store.OpUpdate && i > 0 {
				out[i] = el
				continue
			}
			return nil, true
		}
		out[i] = mapped
	}
	return out, false
}

func (a *Adapter) remapOne(table string, v any) (any, bool) {
	id, ok := asID(v)
	if !ok {
		return v, false
	}
	local, skipped := a.ids.Resolve(table, id)
	if skipped {
		return nil, true
	}
	return local, false
}

func asID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// Sync applies the change inside q, which should be the caller's
// transaction. Store failures are returned unchanged for the caller to
// resolve.
//
// Id map updates are held back until Commit, which the caller invokes once
// its transaction has committed: an inserted row's new id, or for a
// Skipped result the change's own slot so the skip cascades.
func (a *Adapter) Sync(ctx context.Context, q store.Querier) (Effect, error) {
	a.inserted, a.skip = nil, false
	id, skipped := a.LocalID()
	a.localID = id
	values, refSkipped := a.Values()
	if skipped || refSkipped {
		a.skip = true
		return Skipped, nil
	}
	switch a.change.Operation {
	case store.OpInsert:
		return a.insert(ctx, q, values)
	case store.OpUpdate:
		return a.update(ctx, q, id, values)
	case store.OpDelete:
		return a.delete(ctx, q, id)
	}
	return NoOp, store.Errorf(store.ErrCodeConfiguration, "unknown operation %q", a.change.Operation)
}

func (a *Adapter) insert(ctx context.Context, q store.Querier, values store.Values) (Effect, error) {
	ts := a.now().UTC()
	values[schema.ColumnCreated] = ts
	values[schema.ColumnLastUpdated] = ts
	id, err := a.store.InsertRow(ctx, q, a.change.Table, values)
	if err != nil {
		return NoOp, err
	}
	a.inserted, a.localID = &id, id
	row, _, err := a.store.SelectRow(ctx, q, a.change.Table, id)
	if err != nil {
		return NoOp, err
	}
	return Applied, a.log(ctx, q, id, row, ts)
}

// Commit publishes the id map updates of the last Sync.
func (a *Adapter) Commit() {
	switch {
	case a.skip:
		a.ids.Skip(a.change.Table, a.change.RowID)
	case a.inserted != nil:
		a.ids.Set(a.change.Table, a.change.RowID, *a.inserted)
	}
	a.inserted, a.skip = nil, false
}

// Target returns the origin id the last Sync acted on.
func (a *Adapter) Target() int64 { return a.localID }

func (a *Adapter) update(ctx context.Context, q store.Querier, id int64, values store.Values) (Effect, error) {
	live, ok, err := a.store.SelectRow(ctx, q, a.change.Table, id)
	if err != nil {
		return NoOp, err
	}
	if !ok {
		return NoOp, nil
	}
	diff := store.Values{}
	for col, v := range values {
		newVal, _, ok := store.Pair(v)
		if !ok {
			continue
		}
		if !store.ValuesEqual(live[col], newVal) {
			diff[col] = newVal
		}
	}
	if len(diff) == 0 {
		return NoOp, nil
	}
	ts := a.now().UTC()
	diff[schema.ColumnLastUpdated] = ts
	n, err := a.store.UpdateRow(ctx, q, a.change.Table, id, diff)
	if err != nil || n == 0 {
		return NoOp, err
	}
	updated, _, err := a.store.SelectRow(ctx, q, a.change.Table, id)
	if err != nil {
		return NoOp, err
	}
	entry := store.Values{}
	for col, v := range updated {
		if _, changed := diff[col]; changed && !schema.IsSystemColumn(col) {
			entry[col] = []any{v, live[col]}
		} else {
			entry[col] = v
		}
	}
	return Applied, a.log(ctx, q, id, entry, ts)
}

func (a *Adapter) delete(ctx context.Context, q store.Querier, id int64) (Effect, error) {
	snapshot, ok, err := a.store.SelectRow(ctx, q, a.change.Table, id)
	if err != nil {
		return NoOp, err
	}
	if !ok {
		return NoOp, nil
	}
	n, err := a.store.DeleteRow(ctx, q, a.change.Table, id)
	if err != nil || n == 0 {
		return NoOp, err
	}
	return Applied, a.log(ctx, q, id, snapshot, a.now().UTC())
}

func (a *Adapter) log(ctx context.Context, q store.Querier, id int64, values store.Values, ts time.Time) error {
	_, err := a.store.AppendHistory(ctx, q, store.ChangeLogEntry{
		Table:     a.change.Table,
		RowID:     id,
		Values:    values,
		Operation: a.change.Operation,
		User:      a.change.User,
		Timestamp: ts,
	})
	return err
}
