package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RowsCloned("genus", 127)
	m.RowsCloned("genus", 3)
	m.RowsCloned("family", 0)
	m.Staged(2)
	m.SyncOutcome("applied")
	m.SyncOutcome("applied")
	m.SyncOutcome("failed_pending")
	m.Conflict("skip")
	m.Request("GET", "/staged", 200)
	m.CloneFinished(2 * time.Second)

	assert.Equal(t, 130.0, testutil.ToFloat64(m.rowsCloned.WithLabelValues("genus")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.staged))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.syncRows.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRows.WithLabelValues("failed_pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("skip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/staged", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cloneDuration))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.Staged(1)
	second.Staged(1)
	assert.Equal(t, 2.0, testutil.ToFloat64(second.staged))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RowsCloned("genus", 1)
	m.CloneFinished(time.Second)
	m.Staged(1)
	m.SyncOutcome("applied")
	m.Conflict("quit")
	m.Request("GET", "/", 200)
}
