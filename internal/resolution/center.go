// Package resolution is the review surface for staged changes: listing,
// selecting, editing and removing them, and syncing a chosen subset into
// the origin store.
package resolution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/synclone/internal/capture"
	"github.com/roach88/synclone/internal/clone"
	"github.com/roach88/synclone/internal/metrics"
	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/schema"
	"github.com/roach88/synclone/internal/store"
	"github.com/roach88/synclone/internal/task"
)

// Item is a staged change as listed for review.
type Item struct {
	ID        int64           `json:"id" yaml:"id"`
	Batch     int64           `json:"batch_number" yaml:"batch_number"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
	Operation store.Operation `json:"operation" yaml:"operation"`
	User      string          `json:"user" yaml:"user"`
	Table     string          `json:"table_name" yaml:"table_name"`
	RowID     int64           `json:"table_id" yaml:"table_id"`
	Summary   string          `json:"summary" yaml:"summary"`
	Values    store.Values    `json:"values" yaml:"values"`
}

// Center manages the staged changes of one origin store.
type Center struct {
	origin    *store.Store
	metrics   *metrics.Metrics
	cloneOpts []clone.Option
	syncOpts  []replay.Option
}

// Option configures a Center.
type Option func(*Center)

// WithMetrics records capture, sync and re-clone metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Center) { c.metrics = m }
}

// WithCloneOptions configures re-clones.
func WithCloneOptions(opts ...clone.Option) Option {
	return func(c *Center) { c.cloneOpts = append(c.cloneOpts, opts...) }
}

// WithSyncOptions configures every sync session.
func WithSyncOptions(opts ...replay.Option) Option {
	return func(c *Center) { c.syncOpts = append(c.syncOpts, opts...) }
}

// New returns a Center for origin.
func New(origin *store.Store, opts ...Option) *Center {
	c := &Center{origin: origin}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Origin returns the origin store.
func (c *Center) Origin() *store.Store { return c.origin }

// Pull stages the delta of the clone at uri as a new batch.
func (c *Center) Pull(ctx context.Context, uri string) (capture.Batch, error) {
	return capture.New(c.origin, c.metrics).AddBatchFromURI(ctx, uri)
}

// List returns staged changes newest first. A non-zero batch restricts the
// list to that batch.
func (c *Center) List(ctx context.Context, batch int64) ([]Item, error) {
	changes, err := c.staged(ctx, store.StagedFilter{Batch: batch})
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(changes))
	for _, ch := range slices.Backward(changes) {
		items = append(items, Item{
			ID:        ch.ID,
			Batch:     ch.BatchNumber,
			Timestamp: ch.Timestamp,
			Operation: ch.Operation,
			User:      ch.User,
			Table:     ch.Table,
			RowID:     ch.RowID,
			Summary:   Summary(ch.Values),
			Values:    ch.Values,
		})
	}
	return items, nil
}

// SelectAll returns the ids of every staged change.
func (c *Center) SelectAll(ctx context.Context) ([]int64, error) {
	changes, err := c.staged(ctx, store.StagedFilter{})
	if err != nil {
		return nil, err
	}
	return ids(changes, func(store.StagedChange) bool { return true }), nil
}

// SelectBatch returns the ids of every staged change in the same batch as
// anchor.
func (c *Center) SelectBatch(ctx context.Context, anchor int64) ([]int64, error) {
	a, err := c.get(ctx, anchor)
	if err != nil {
		return nil, err
	}
	changes, err := c.staged(ctx, store.StagedFilter{Batch: a.BatchNumber})
	if err != nil {
		return nil, err
	}
	return ids(changes, func(store.StagedChange) bool { return true }), nil
}

// SelectRelated returns the ids of staged changes to the same row as
// anchor, or holding a reference to that row.
func (c *Center) SelectRelated(ctx context.Context, anchor int64) ([]int64, error) {
	a, err := c.get(ctx, anchor)
	if err != nil {
		return nil, err
	}
	changes, err := c.staged(ctx, store.StagedFilter{})
	if err != nil {
		return nil, err
	}
	sch := c.origin.Schema()
	return ids(changes, func(ch store.StagedChange) bool {
		if ch.Table == a.Table && ch.RowID == a.RowID {
			return true
		}
		for col, v := range ch.Values {
			target, ok := sch.ReferencedTable(ch.Table, col, ch.Values)
			if ok && target == a.Table && refersTo(v, a.RowID) {
				return true
			}
		}
		return false
	}), nil
}

func refersTo(v any, id int64) bool {
	if list, ok := v.([]any); ok {
		return slices.ContainsFunc(list, func(el any) bool { return refersTo(el, id) })
	}
	n, ok := v.(int64)
	return ok && n == id
}

// Edit merges edits into the captured values of staged change id and
// persists them. A column holding an update pair has only its new value
// replaced.
func (c *Center) Edit(ctx context.Context, id int64, edits store.Values) (store.StagedChange, error) {
	if c.origin == nil {
		return store.StagedChange{}, store.ErrNoConnection
	}
	var ch store.StagedChange
	err := c.origin.InTx(ctx, func(tx *sql.Tx) error {
		var ok bool
		var err error
		if ch, ok, err = c.origin.GetStaged(ctx, tx, id); err != nil {
			return err
		}
		if !ok {
			return store.Errorf(store.ErrCodeConfiguration, "no staged change with id %d", id)
		}
		ApplyEdits(&ch, edits)
		return c.origin.UpdateStagedValues(ctx, tx, id, ch.Values)
	})
	if err != nil {
		return store.StagedChange{}, fmt.Errorf("edit staged change %d: %w", id, err)
	}
	slog.Info("staged change edited", "staged_id", id, "columns", len(edits))
	return ch, nil
}

// ApplyEdits merges edits into ch's values in place. In an update, a
// column holding a [new, old] pair has only its new value replaced.
func ApplyEdits(ch *store.StagedChange, edits store.Values) {
	if ch.Values == nil {
		ch.Values = store.Values{}
	}
	for col, v := range edits {
		if _, old, ok := store.Pair(ch.Values[col]); ok && ch.Operation == store.OpUpdate {
			ch.Values[col] = []any{v, old}
			continue
		}
		ch.Values[col] = v
	}
}

// ParseEdits parses col=value text edits for a change to table.
func ParseEdits(sch *schema.Schema, table string, edits map[string]string) (store.Values, error) {
	t, ok := sch.Table(table)
	if !ok {
		return nil, store.Errorf(store.ErrCodeConfiguration, "unknown table %q", table)
	}
	values := store.Values{}
	for col, text := range edits {
		v, err := ParseValue(t, col, text)
		if err != nil {
			return nil, err
		}
		values[col] = v
	}
	return values, nil
}

// EditText is Edit with values typed in as text, parsed by column type.
func (c *Center) EditText(ctx context.Context, id int64, edits map[string]string) (store.StagedChange, error) {
	ch, err := c.get(ctx, id)
	if err != nil {
		return store.StagedChange{}, err
	}
	values, err := ParseEdits(c.origin.Schema(), ch.Table, edits)
	if err != nil {
		return store.StagedChange{}, err
	}
	return c.Edit(ctx, id, values)
}

// Remove deletes staged changes without syncing them.
func (c *Center) Remove(ctx context.Context, ids ...int64) error {
	if c.origin == nil {
		return store.ErrNoConnection
	}
	err := c.origin.InTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := c.origin.DeleteStaged(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("staged changes removed", "rows", len(ids))
	return nil
}

// Sync replays the staged changes with the given ids, or every staged
// change when ids is empty. When the resolver accepts the re-clone offer
// the origin is cloned back to the last pulled URI before Sync returns.
func (c *Center) Sync(ctx context.Context, ids []int64, resolver replay.Resolver, r *task.Reporter) (replay.Report, error) {
	opts := append([]replay.Option{replay.WithMetrics(c.metrics)}, c.syncOpts...)
	rep, err := replay.New(c.origin, resolver, opts...).Sync(ctx, store.StagedFilter{IDs: ids}, r)
	if err != nil || rep.Reclone == "" {
		return rep, err
	}
	if err := c.Reclone(ctx, rep.Reclone); err != nil {
		return rep, fmt.Errorf("re-clone to %s: %w", store.Redact(rep.Reclone), err)
	}
	return rep, nil
}

// Reclone clones the origin to uri and waits for it to finish.
func (c *Center) Reclone(ctx context.Context, uri string) error {
	slog.Info("cloning back", "target", store.Redact(uri))
	opts := append([]clone.Option{clone.WithMetrics(c.metrics)}, c.cloneOpts...)
	h, err := clone.New(c.origin, opts...).Start(ctx, uri)
	if err != nil {
		return err
	}
	return h.Wait()
}

func (c *Center) staged(ctx context.Context, f store.StagedFilter) ([]store.StagedChange, error) {
	if c.origin == nil {
		return nil, store.ErrNoConnection
	}
	changes, err := c.origin.ListStaged(ctx, nil, f)
	if err != nil {
		return nil, fmt.Errorf("list staged changes: %w", err)
	}
	return changes, nil
}

func (c *Center) get(ctx context.Context, id int64) (store.StagedChange, error) {
	if c.origin == nil {
		return store.StagedChange{}, store.ErrNoConnection
	}
	ch, ok, err := c.origin.GetStaged(ctx, nil, id)
	if err != nil {
		return store.StagedChange{}, err
	}
	if !ok {
		return store.StagedChange{}, store.Errorf(store.ErrCodeConfiguration, "no staged change with id %d", id)
	}
	return ch, nil
}

func ids(changes []store.StagedChange, keep func(store.StagedChange) bool) []int64 {
	var out []int64
	for _, ch := range changes {
		if keep(ch) {
			out = append(out, ch.ID)
		}
	}
	return out
}
