package harness

import (
	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/store"
)

// TraceEvent is one replayed row, in replay order.
type TraceEvent struct {
	Seq       int             `json:"seq"`
	StagedID  int64           `json:"staged_id"`
	Table     string          `json:"table"`
	Operation store.Operation `json:"operation"`
	RemoteID  int64           `json:"remote_id"`
	// LocalID is set for applied and already-present rows only.
	LocalID   int64          `json:"local_id,omitempty"`
	Outcome   replay.Outcome `json:"outcome"`
	Decisions []string       `json:"decisions,omitempty"`
	// Message is the conflict text. It is driver specific, so it is kept
	// out of golden files.
	Message string `json:"-"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per replayed row.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Report is the synchronizer's report.
	Report replay.Report `json:"report"`

	// Batch is the number the pulled delta was staged under.
	Batch int64 `json:"batch"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddRow appends a replayed row to the trace.
func (r *Result) AddRow(row replay.RowResult) {
	ev := TraceEvent{
		Seq:       len(r.Trace) + 1,
		StagedID:  row.StagedID,
		Table:     row.Table,
		Operation: row.Operation,
		RemoteID:  row.RemoteID,
		Outcome:   row.Outcome,
		Decisions: row.Decisions,
		Message:   row.Message,
	}
	if row.Outcome == replay.OutcomeApplied || row.Outcome == replay.OutcomeNoOp {
		ev.LocalID = row.LocalID
	}
	r.Trace = append(r.Trace, ev)
}
