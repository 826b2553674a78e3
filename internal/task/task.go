package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Func is the body of a task.
type Func func(ctx context.Context, r *Reporter) error

// Handle controls a running task.
//
// Progress events are delivered on a channel with a buffer of one: a slow
// reader sees the latest event, never a backlog. The channel is closed when
// the task returns.
type Handle struct {
	name     string
	reporter *Reporter

	mu       sync.Mutex
	progress chan Progress
	closed   bool
	done     chan struct{}
	err      error
}

// Start runs fn on its own goroutine.
func Start(ctx context.Context, name string, stepPercent int, fn Func) *Handle {
	h := &Handle{
		name:     name,
		progress: make(chan Progress, 1),
		done:     make(chan struct{}),
	}
	h.reporter = NewReporter(ctx, name, stepPercent, h.publish)

	go func() {
		slog.Info("task starting", "task", name)
		err := fn(ctx, h.reporter)
		switch {
		case err == nil:
			slog.Info("task finished", "task", name)
		case errors.Is(err, ErrCancelled):
			slog.Info("task cancelled", "task", name)
		default:
			slog.Error("task failed", "task", name, "error", err)
		}
		h.mu.Lock()
		h.err = err
		h.closed = true
		close(h.progress)
		h.mu.Unlock()
		close(h.done)
	}()
	return h
}

// publish replaces any unread event with p (non-blocking).
func (h *Handle) publish(p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.progress <- p:
		return
	default:
	}
	select {
	case <-h.progress:
	default:
	}
	select {
	case h.progress <- p:
	default:
	}
}

// Name returns the task name.
func (h *Handle) Name() string { return h.name }

// Progress returns the progress channel. Unread events are dropped.
func (h *Handle) Progress() <-chan Progress {
	return h.progress
}

// Cancel asks the task to stop at its next step boundary. Work already in
// flight is not interrupted.
func (h *Handle) Cancel() {
	h.reporter.Cancel()
}

// Done is closed when the task has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task returns and reports its error.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
