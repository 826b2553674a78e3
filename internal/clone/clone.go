// Package clone copies a collection store into another store and records
// the provenance marker that later lets the copy be synced back.
package clone

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/synclone/internal/metrics"
	"github.com/roach88/synclone/internal/schema"
	"github.com/roach88/synclone/internal/store"
	"github.com/roach88/synclone/internal/task"
)

// DefaultBatchSize is the number of rows sent per bulk insert.
const DefaultBatchSize = 127

// Result summarises a finished clone.
type Result struct {
	Tables int   `json:"tables"`
	Rows   int64 `json:"rows"`
	// Marker is the origin history id recorded on the target.
	Marker int64 `json:"clone_history_id"`
}

// Cloner copies its origin store into targets.
type Cloner struct {
	origin      *store.Store
	batchSize   int
	stepPercent int
	metrics     *metrics.Metrics
}

// Option configures a Cloner.
type Option func(*Cloner)

// WithBatchSize sets the bulk insert size. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(c *Cloner) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithStepPercent sets how often progress is reported.
func WithStepPercent(p int) Option {
	return func(c *Cloner) { c.stepPercent = p }
}

// WithMetrics records copied rows and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cloner) { c.metrics = m }
}

// New returns a Cloner reading from origin.
func New(origin *store.Store, opts ...Option) *Cloner {
	c := &Cloner{origin: origin, batchSize: DefaultBatchSize, stepPercent: task.DefaultStepPercent}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the store at targetURI and runs the clone as a background
// task. The target is closed when the task ends.
func (c *Cloner) Start(ctx context.Context, targetURI string) (*task.Handle, error) {
	if c.origin == nil {
		return nil, store.ErrNoConnection
	}
	if store.SameURI(c.origin.URI(), targetURI) {
		return nil, store.Errorf(store.ErrCodeConfiguration, "Can not clone to the same database.")
	}
	target, err := store.Open(ctx, targetURI, c.origin.Schema())
	if err != nil {
		return nil, fmt.Errorf("open clone target: %w", err)
	}
	return task.Start(ctx, "clone", c.stepPercent, func(ctx context.Context, r *task.Reporter) error {
		defer target.Close()
		_, err := c.Run(ctx, target, r)
		return err
	}), nil
}

// Run destroys every table on target, copies the origin's tables into it
// in dependency order and records the provenance marker. Staged changes are
// not copied. A failure stops the run; tables already copied stay.
func (c *Cloner) Run(ctx context.Context, target *store.Store, r *task.Reporter) (Result, error) {
	if c.origin == nil || target == nil {
		return Result{}, store.ErrNoConnection
	}
	started := time.Now()
	var res Result

	slog.Info("clone starting", "origin", store.Redact(c.origin.URI()), "target", store.Redact(target.URI()))
	if err := target.DropCreateSchema(ctx); err != nil {
		return res, fmt.Errorf("recreate clone schema: %w", err)
	}

	tables := cloneTables(c.origin.Schema())
	var total int64
	for _, t := range tables {
		n, err := c.origin.CountRows(ctx, nil, t.Name)
		if err != nil {
			return res, fmt.Errorf("count rows: %w", err)
		}
		total += n
	}
	if err := r.Step(0, total); err != nil {
		return res, err
	}

	for _, t := range tables {
		msg := "Cloning " + t.Name + " table"
		slog.Info(msg, "table", t.Name)
		r.SetMessage(msg)
		if err := r.Err(); err != nil {
			return res, err
		}
		n, err := c.copyTable(ctx, target, t, r, res.Rows, total)
		res.Rows += n
		if err != nil {
			return res, fmt.Errorf("clone table %s: %w", t.Name, err)
		}
		res.Tables++
	}

	if err := target.ResetSequences(ctx, nil); err != nil {
		return res, fmt.Errorf("reset sequences: %w", err)
	}

	marker, err := c.recordMarker(ctx, target)
	if err != nil {
		return res, err
	}
	res.Marker = marker
	c.metrics.CloneFinished(time.Since(started))
	slog.Info("clone finished", "tables", res.Tables, "rows", res.Rows, "clone_history_id", marker)
	return res, nil
}

// cloneTables returns the tables to copy in dependency order.
func cloneTables(s *schema.Schema) []*schema.Table {
	var out []*schema.Table
	for _, t := range s.Sorted() {
		if t.Name == schema.TableToSync {
			continue
		}
		out = append(out, t)
	}
	return out
}

// copyTable streams one table in batches inside a single target
// transaction. done is the number of rows copied before this table.
func (c *Cloner) copyTable(ctx context.Context, target *store.Store, t *schema.Table, r *task.Reporter, done, total int64) (int64, error) {
	cols := t.ColumnNames()
	var copied int64
	err := target.InTx(ctx, func(tx *sql.Tx) error {
		batch := make([][]any, 0, c.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			slog.Debug("adding rows to clone", "table", t.Name, "rows", len(batch))
			if err := target.BulkInsert(ctx, tx, t.Name, cols, batch); err != nil {
				return err
			}
			c.metrics.RowsCloned(t.Name, len(batch))
			batch = batch[:0]
			return nil
		}
		err := c.origin.StreamRows(ctx, nil, t.Name, func(row []any) error {
			batch = append(batch, append([]any(nil), row...))
			copied++
			if len(batch) == c.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
			return r.Step(done+copied, total)
		})
		if err != nil {
			return err
		}
		return flush()
	})
	return copied, err
}

// recordMarker writes the origin's highest history id to the target. An
// empty origin log is recorded as "0" so the target is still recognised
// as a clone.
func (c *Cloner) recordMarker(ctx context.Context, target *store.Store) (int64, error) {
	maxID, _, err := c.origin.MaxHistoryID(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("read origin history: %w", err)
	}
	if err := target.SetMeta(ctx, nil, store.MetaCloneHistoryID, strconv.FormatInt(maxID, 10)); err != nil {
		return 0, fmt.Errorf("record clone point: %w", err)
	}
	return maxID, nil
}
