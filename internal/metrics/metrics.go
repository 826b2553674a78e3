// Package metrics exposes Prometheus counters for cloning, capture and
// replay. All methods are safe to call on a nil *Metrics, which records
// nothing.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "synclone"

// Metrics holds the registered collectors.
type Metrics struct {
	rowsCloned    *prometheus.CounterVec
	cloneDuration prometheus.Histogram
	staged        prometheus.Counter
	syncRows      *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	requests      *prometheus.CounterVec
}

// New registers the collectors with reg, or with the default registerer
// when reg is nil. Collectors already registered by a previous call are
// reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{}
	var err error
	if m.rowsCloned, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_cloned_total",
		Help:      "Rows copied into clone targets.",
	}, []string{"table"})); err != nil {
		return nil, err
	}
	if m.cloneDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "clone_duration_seconds",
		Help:      "Duration of complete clone runs in seconds.",
		Buckets:   []float64{0.1, 1.0, 10.0, 60.0, 600.0},
	})); err != nil {
		return nil, err
	}
	if m.staged, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "staged_changes_total",
		Help:      "Remote change log entries staged for replay.",
	})); err != nil {
		return nil, err
	}
	if m.syncRows, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_rows_total",
		Help:      "Staged changes processed by the synchronizer, by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if m.conflicts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Replay conflicts, by resolution decision.",
	}, []string{"decision"})); err != nil {
		return nil, err
	}
	if m.requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_count",
		Help:      "Number of HTTP requests served.",
	}, []string{"method", "path", "code"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// RowsCloned counts n rows copied from table.
func (m *Metrics) RowsCloned(table string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsCloned.WithLabelValues(table).Add(float64(n))
}

// CloneFinished observes the duration of a completed clone.
func (m *Metrics) CloneFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.cloneDuration.Observe(d.Seconds())
}

// Staged counts n captured entries.
func (m *Metrics) Staged(n int) {
	if m == nil || n == 0 {
		return
	}
	m.staged.Add(float64(n))
}

// SyncOutcome counts one processed staged change.
func (m *Metrics) SyncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.syncRows.WithLabelValues(outcome).Inc()
}

// Conflict counts one conflict and the decision taken for it.
func (m *Metrics) Conflict(decision string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(decision).Inc()
}

// Request counts one HTTP request. path should be the route template, not
// the concrete URL, to keep cardinality bounded.
func (m *Metrics) Request(method, path string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
}
