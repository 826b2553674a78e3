package task

import (
	"context"
	"sync"

	"github.com/roach88/synclone/internal/store"
)

// DefaultStepPercent is how often, as a percentage of the total, progress is
// reported.
const DefaultStepPercent = 5

// ErrCancelled is returned by Step once the task has been cancelled.
var ErrCancelled = &store.Error{Code: store.ErrCodeCancelled, Message: "task cancelled"}

// Progress is one progress event.
type Progress struct {
	Task     string  `json:"task"`
	Done     int64   `json:"done"`
	Total    int64   `json:"total"`
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message,omitempty"`
}

// Reporter is handed to work functions. A nil *Reporter is valid and only
// observes context cancellation.
type Reporter struct {
	ctx  context.Context
	name string
	step int64
	emit func(Progress)

	mu        sync.Mutex
	next      int64
	finished  bool
	message   string
	cancelled bool
}

// NewReporter returns a Reporter that calls emit every stepPercent percent
// of progress. A stepPercent outside (0, 100] uses DefaultStepPercent.
func NewReporter(ctx context.Context, name string, stepPercent int, emit func(Progress)) *Reporter {
	if stepPercent <= 0 || stepPercent > 100 {
		stepPercent = DefaultStepPercent
	}
	if emit == nil {
		emit = func(Progress) {}
	}
	return &Reporter{ctx: ctx, name: name, step: int64(stepPercent), emit: emit}
}

// Step records that done of total units are complete. It emits a Progress
// event whenever another step boundary has been crossed, and returns
// ErrCancelled when the task was cancelled.
func (r *Reporter) Step(done, total int64) error {
	if r == nil {
		return nil
	}
	if err := r.Err(); err != nil {
		return err
	}
	complete := total <= 0 || done >= total
	fraction := 1.0
	var bucket int64
	if !complete {
		fraction = float64(done) / float64(total)
		bucket = done * 100 / (total * r.step)
	}

	r.mu.Lock()
	if r.finished || (!complete && bucket < r.next) {
		r.mu.Unlock()
		return nil
	}
	r.next = bucket + 1
	r.finished = complete
	p := Progress{Task: r.name, Done: done, Total: total, Fraction: fraction, Message: r.message}
	r.mu.Unlock()

	r.emit(p)
	return nil
}

// SetMessage sets the message attached to subsequent events.
func (r *Reporter) SetMessage(msg string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.message = msg
	r.mu.Unlock()
}

// Cancel sets the cancel flag. Work stops at the next Step.
func (r *Reporter) Cancel() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
}

// Err returns ErrCancelled once the flag or the context is set.
func (r *Reporter) Err() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	cancelled := r.cancelled
	r.mu.Unlock()
	if cancelled || (r.ctx != nil && r.ctx.Err() != nil) {
		return ErrCancelled
	}
	return nil
}
