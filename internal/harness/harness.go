package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/synclone/internal/clone"
	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/resolution"
	"github.com/roach88/synclone/internal/schema"
	"github.com/roach88/synclone/internal/store"
	"github.com/roach88/synclone/internal/task"
	"github.com/roach88/synclone/internal/testutil"
)

// Harness runs a scenario against a pair of throwaway stores with a
// deterministic clock and session id.
type Harness struct {
	schema *schema.Schema
	origin *store.Store
	remote *store.Store
	clock  *testutil.FixedClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in fresh sqlite files for isolation.
//
// Execution flow:
// 1. Create origin and record the origin steps
// 2. Clone it, then record the remote and concurrent steps
// 3. Pull the clone's delta into a staged batch
// 4. Apply edits and removals to the staged changes
// 5. Sync with the scripted resolver
// 6. Return result with pass/fail, trace, and errors
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "synclone-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	sch := schema.Default()
	if scenario.Schema != "" {
		if sch, err = schema.LoadCUE(scenario.Schema); err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
	}

	h := &Harness{
		schema: sch,
		clock:  testutil.NewFixedClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	if h.origin, err = h.open(ctx, filepath.Join(dir, "origin.db")); err != nil {
		return nil, err
	}
	defer h.origin.Close()
	remoteURI := "sqlite://" + filepath.Join(dir, "remote.db")
	if h.remote, err = h.open(ctx, filepath.Join(dir, "remote.db")); err != nil {
		return nil, err
	}
	defer h.remote.Close()

	if err := h.record(ctx, h.origin, "admin", scenario.Origin); err != nil {
		return nil, fmt.Errorf("failed to execute origin steps: %w", err)
	}
	if _, err := clone.New(h.origin).Run(ctx, h.remote, nil); err != nil {
		return nil, fmt.Errorf("failed to clone: %w", err)
	}
	if err := h.record(ctx, h.remote, "field", scenario.Remote); err != nil {
		return nil, fmt.Errorf("failed to execute remote steps: %w", err)
	}
	if err := h.record(ctx, h.origin, "admin", scenario.Concurrent); err != nil {
		return nil, fmt.Errorf("failed to execute concurrent steps: %w", err)
	}

	sessions := task.NewFixedGenerator()
	if scenario.Session != "" {
		sessions = task.NewFixedGenerator(scenario.Session)
	}
	center := resolution.New(h.origin, resolution.WithSyncOptions(
		replay.WithClock(h.clock.Now),
		replay.WithSessionIDs(sessions),
		replay.WithLogger(h.logger),
	))

	result := NewResult()
	batch, err := center.Pull(ctx, remoteURI)
	if err != nil {
		return nil, fmt.Errorf("failed to pull: %w", err)
	}
	result.Batch = batch.Number

	for i, e := range scenario.Edits {
		if _, err := center.EditText(ctx, e.Staged, e.Values); err != nil {
			return nil, fmt.Errorf("edit %d: %w", i, err)
		}
	}
	if len(scenario.Remove) > 0 {
		if err := center.Remove(ctx, scenario.Remove...); err != nil {
			return nil, fmt.Errorf("remove: %w", err)
		}
	}

	resolver, err := newScriptedResolver(scenario.Resolver, sch)
	if err != nil {
		return nil, err
	}
	rep, err := center.Sync(ctx, nil, resolver, nil)
	if err != nil && !store.IsAbort(err) {
		return nil, fmt.Errorf("failed to sync: %w", err)
	}
	result.Report = rep
	for _, row := range rep.Rows {
		result.AddRow(row)
	}
	h.logger.Info("scenario synced", "scenario", scenario.Name, "rows", len(rep.Rows))

	actx := &AssertionContext{Store: h.origin, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func (h *Harness) open(ctx context.Context, path string) (*store.Store, error) {
	s, err := store.Open(ctx, "sqlite://"+path, h.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create schema in %s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// record runs steps through the store's Recorder so they reach its change
// log.
func (h *Harness) record(ctx context.Context, s *store.Store, user string, steps []Step) error {
	for i, step := range steps {
		u := user
		if step.User != "" {
			u = step.User
		}
		rec := s.Recorder(u, h.clock.Now)
		values := toValues(step.Values)

		var err error
		found := true
		switch store.Operation(step.Op) {
		case store.OpInsert:
			_, err = rec.Insert(ctx, step.Table, values)
		case store.OpUpdate:
			found, err = rec.Update(ctx, step.Table, step.ID, values)
		case store.OpDelete:
			found, err = rec.Delete(ctx, step.Table, step.ID)
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if !found {
			return fmt.Errorf("step %d: %s %d not found", i, step.Table, step.ID)
		}
		h.logger.Debug("step recorded", "step", i, "op", step.Op, "table", step.Table)
	}
	return nil
}

// toValues converts YAML-decoded values to the types the store expects.
func toValues(in map[string]any) store.Values {
	out := make(store.Values, len(in))
	for k, v := range in {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v any) any {
	switch val := v.(type) {
	case int:
		return int64(val)
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = toValue(el)
		}
		return out
	}
	return v
}

// scriptedResolver answers conflicts from a ResolverScript.
type scriptedResolver struct {
	decisions []replay.Decision
	resolve   map[string]string
	schema    *schema.Schema
	abort     bool
	reclone   bool
	next      int
}

func newScriptedResolver(script ResolverScript, sch *schema.Schema) (*scriptedResolver, error) {
	r := &scriptedResolver{resolve: script.Resolve, schema: sch, abort: script.Abort, reclone: script.Reclone}
	for _, name := range script.Decisions {
		d, err := replay.ParseDecision(name)
		if err != nil {
			return nil, err
		}
		r.decisions = append(r.decisions, d)
	}
	if len(r.decisions) == 0 {
		r.decisions = []replay.Decision{replay.Skip}
	}
	return r, nil
}

func (r *scriptedResolver) Resolve(_ context.Context, c *replay.Conflict) replay.Decision {
	d := r.decisions[min(r.next, len(r.decisions)-1)]
	r.next++
	if d != replay.Resolve {
		return d
	}
	values, err := resolution.ParseEdits(r.schema, c.Change.Table, r.resolve)
	if err != nil || len(values) == 0 {
		return replay.Skip
	}
	resolution.ApplyEdits(c.Change, values)
	return d
}

func (r *scriptedResolver) ConfirmAbort(context.Context) bool { return r.abort }

func (r *scriptedResolver) OfferReclone(context.Context, string) bool { return r.reclone }
