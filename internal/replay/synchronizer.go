package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/synclone/internal/metrics"
	"github.com/roach88/synclone/internal/store"
	"github.com/roach88/synclone/internal/task"
)

// Outcome is the final state of one staged change in a session.
type Outcome string

const (
	OutcomeApplied Outcome = "APPLIED"
	OutcomeNoOp    Outcome = "SKIPPED_NOOP"
	// OutcomeFailed rows stay staged for review.
	OutcomeFailed Outcome = "FAILED_PENDING"
	// OutcomeAborted rows were not applied because the session stopped.
	// They stay staged.
	OutcomeAborted Outcome = "ABORTED"
)

// ErrAborted is returned when the resolver chose to stop the session.
var ErrAborted = &store.Error{Code: store.ErrCodeAbortRequested, Message: "Sync aborted."}

// RowResult is the outcome of one staged change.
type RowResult struct {
	StagedID  int64           `json:"staged_id" yaml:"staged_id"`
	Table     string          `json:"table" yaml:"table"`
	RemoteID  int64           `json:"remote_id" yaml:"remote_id"`
	LocalID   int64           `json:"local_id,omitempty" yaml:"local_id,omitempty"`
	Operation store.Operation `json:"operation" yaml:"operation"`
	Outcome   Outcome         `json:"outcome" yaml:"outcome"`
	// Message is the last conflict message, if any.
	Message   string   `json:"message,omitempty" yaml:"message,omitempty"`
	Decisions []string `json:"decisions,omitempty" yaml:"decisions,omitempty"`
}

// Report summarises a session.
type Report struct {
	Session string      `json:"session" yaml:"session"`
	Rows    []RowResult `json:"rows" yaml:"rows"`
	// Pending lists the staged ids still queued after the session.
	Pending   []int64 `json:"pending" yaml:"pending"`
	Aborted   bool    `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	Cancelled bool    `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	// Reclone is the remote URI the user accepted to re-clone to.
	Reclone string  `json:"reclone,omitempty" yaml:"reclone,omitempty"`
	IDMap   []Entry `json:"id_map" yaml:"id_map"`
}

// Count returns the number of rows with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, row := range r.Rows {
		if row.Outcome == o {
			n++
		}
	}
	return n
}

// Clean reports whether every row was applied or already present.
func (r Report) Clean() bool {
	return len(r.Pending) == 0 && !r.Aborted && !r.Cancelled
}

// Synchronizer replays staged changes into the origin store. Each
// Synchronizer holds one id map, so it represents one session.
type Synchronizer struct {
	origin      *store.Store
	resolver    Resolver
	ids         *IDMap
	now         func() time.Time
	sessions    task.IDGenerator
	metrics     *metrics.Metrics
	stepPercent int
	logger      *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithIDMap seeds the session's id map.
func WithIDMap(m *IDMap) Option {
	return func(s *Synchronizer) {
		if m != nil {
			s.ids = m
		}
	}
}

// WithClock sets the clock stamping replayed rows.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionIDs sets the session id generator.
func WithSessionIDs(g task.IDGenerator) Option {
	return func(s *Synchronizer) {
		if g != nil {
			s.sessions = g
		}
	}
}

// WithMetrics records outcomes and decisions in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithStepPercent sets the progress granularity of Start.
func WithStepPercent(p int) Option {
	return func(s *Synchronizer) { s.stepPercent = p }
}

// WithLogger sets the logger; the session id is attached to it.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Synchronizer replaying into origin. A nil resolver skips
// every conflicting row.
func New(origin *store.Store, resolver Resolver, opts ...Option) *Synchronizer {
	if resolver == nil {
		resolver = PolicyResolver{Decision: Skip}
	}
	s := &Synchronizer{
		origin:      origin,
		resolver:    resolver,
		ids:         NewIDMap(),
		now:         time.Now,
		sessions:    task.UUIDv7Generator{},
		stepPercent: task.DefaultStepPercent,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IDMap returns the session's id map.
func (s *Synchronizer) IDMap() *IDMap { return s.ids }

// Start runs Sync on a task. done, if not nil, receives the report before
// the task finishes.
func (s *Synchronizer) Start(ctx context.Context, f store.StagedFilter, done func(Report)) *task.Handle {
	return task.Start(ctx, "sync", s.stepPercent, func(ctx context.Context, r *task.Reporter) error {
		r.SetMessage("syncing")
		rep, err := s.Sync(ctx, f, r)
		if done != nil {
			done(rep)
		}
		return err
	})
}

// Sync loads the staged changes selected by f and replays them.
func (s *Synchronizer) Sync(ctx context.Context, f store.StagedFilter, r *task.Reporter) (Report, error) {
	if s.origin == nil {
		return Report{}, store.ErrNoConnection
	}
	changes, err := s.origin.ListStaged(ctx, nil, f)
	if err != nil {
		return Report{}, fmt.Errorf("load staged changes: %w", err)
	}
	return s.Run(ctx, changes, r)
}

// Run replays changes oldest first, each in its own transaction. A row
// that conflicts is handed to the resolver. The returned error is
// ErrAborted when the resolver stopped the session and task.ErrCancelled
// when r was cancelled; the report is complete in both cases.
func (s *Synchronizer) Run(ctx context.Context, changes []store.StagedChange, r *task.Reporter) (Report, error) {
	if s.origin == nil {
		return Report{}, store.ErrNoConnection
	}
	changes = slices.Clone(changes)
	slices.SortFunc(changes, func(a, b store.StagedChange) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	rep := Report{Session: s.sessions.Generate()}
	log := s.logger.With("session", rep.Session)
	log.Info("sync starting", "rows", len(changes))

	var stop error
	total := int64(len(changes))
	if err := r.Step(0, total); err != nil {
		stop = err
	}
	for i := range changes {
		ch := &changes[i]
		res := RowResult{StagedID: ch.ID, Table: ch.Table, RemoteID: ch.RowID, Operation: ch.Operation}
		if stop == nil {
			stop = s.syncRow(ctx, log, ch, &res)
		} else {
			res.Outcome = OutcomeAborted
		}
		s.metrics.SyncOutcome(string(res.Outcome))
		rep.Rows = append(rep.Rows, res)
		if res.Outcome == OutcomeFailed || res.Outcome == OutcomeAborted {
			rep.Pending = append(rep.Pending, ch.ID)
		}
		if stop == nil {
			if err := r.Step(int64(i+1), total); err != nil {
				stop = err
			}
		}
	}
	rep.IDMap = s.ids.Entries()
	rep.Aborted = errors.Is(stop, ErrAborted)
	rep.Cancelled = store.IsCancelled(stop)

	log.Info("sync finished",
		"applied", rep.Count(OutcomeApplied),
		"noop", rep.Count(OutcomeNoOp),
		"pending", len(rep.Pending),
		"aborted", rep.Aborted)

	if stop != nil {
		return rep, stop
	}
	if rep.Clean() && len(changes) > 0 {
		s.offerReclone(ctx, log, &rep)
	}
	return rep, nil
}

// syncRow drives one row to a final outcome. The returned error stops the
// session.
func (s *Synchronizer) syncRow(ctx context.Context, log *slog.Logger, ch *store.StagedChange, res *RowResult) error {
	log = log.With("staged_id", ch.ID, "table", ch.Table, "operation", string(ch.Operation))
	for {
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeAborted
			return task.ErrCancelled
		}
		a := NewAdapter(s.origin, s.ids, ch, s.now)
		var effect Effect
		err := s.origin.InTx(ctx, func(tx *sql.Tx) error {
			var err error
			if effect, err = a.Sync(ctx, tx); err != nil {
				return err
			}
			if effect == Skipped {
				return nil
			}
			return s.origin.DeleteStaged(ctx, tx, ch.ID)
		})
		if err == nil {
			a.Commit()
			res.LocalID = a.Target()
			switch effect {
			case Applied:
				res.Outcome = OutcomeApplied
			case NoOp:
				res.Outcome = OutcomeNoOp
			case Skipped:
				res.Outcome = OutcomeFailed
				res.Message = "skipped: depends on a skipped row"
			}
			log.Debug("row synced", "outcome", string(res.Outcome), "local_id", res.LocalID)
			return nil
		}
		if ctx.Err() != nil {
			res.Outcome = OutcomeAborted
			return task.ErrCancelled
		}

		c := &Conflict{Change: ch, Message: conflictMessage(err), Err: err}
		res.Message = c.Message
		log.Info("row conflict", "error", c.Message)

		start := ch.Values.Clone()
		d := s.resolver.Resolve(ctx, c)
		s.metrics.Conflict(d.String())
		res.Decisions = append(res.Decisions, d.String())
		if d == Resolve {
			continue
		}
		restore(ch.Values, start)

		switch d {
		case SkipRelated:
			s.ids.Skip(ch.Table, ch.RowID)
			res.Outcome = OutcomeFailed
			return nil
		case Quit:
			res.Outcome = OutcomeAborted
			return ErrAborted
		case Dismiss:
			if s.resolver.ConfirmAbort(ctx) {
				res.Outcome = OutcomeAborted
				return ErrAborted
			}
		}
		res.Outcome = OutcomeFailed
		return nil
	}
}

func (s *Synchronizer) offerReclone(ctx context.Context, log *slog.Logger, rep *Report) {
	uri, ok, err := s.origin.GetMeta(ctx, nil, store.MetaLastPullURI)
	if err != nil {
		log.Error("read last pull uri", "error", err)
		return
	}
	if !ok || uri == "" {
		return
	}
	if s.resolver.OfferReclone(ctx, uri) {
		rep.Reclone = uri
	}
}

// restore resets v to start in place, so holders of the map see it.
func restore(v, start store.Values) {
	clear(v)
	for k, val := range start {
		v[k] = val
	}
}

func conflictMessage(err error) string {
	var se *store.Error
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
