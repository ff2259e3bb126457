package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventFolded("cellCreated", true)
		m.ExecutionSettled("completed", "code", time.Second)
		m.Heartbeat("ready")
		m.Assigned()
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.EventFolded("cellCreated", true)
	m.EventFolded("cellCreated", true)
	m.EventFolded("executionAssigned", false)
	m.ExecutionSettled("failed", "sql", 250*time.Millisecond)
	m.Heartbeat("ready")
	m.Assigned()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsFolded.WithLabelValues("cellCreated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejectedTransitions.WithLabelValues("executionAssigned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("failed", "sql")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.heartbeats.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.assignments))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Heartbeat("ready")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `nbkernel_session_heartbeats_total{status="ready"} 1`)
}
