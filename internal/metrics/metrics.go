// Package metrics holds the kernel's Prometheus collectors.
//
// All methods are safe on a nil *Metrics, so components can be built
// without instrumentation in tests and one-shot CLI commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "nbkernel"

// Metrics is the set of collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsFolded        *prometheus.CounterVec
	rejectedTransitions *prometheus.CounterVec
	executions          *prometheus.CounterVec
	executionSeconds    *prometheus.HistogramVec
	heartbeats          *prometheus.CounterVec
	assignments         prometheus.Counter
}

// New creates collectors on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsFolded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "events_folded_total",
			Help:      "Events folded into the projection, by event name.",
		}, []string{"event"}),
		rejectedTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "rejected_events_total",
			Help:      "Events ignored by the projection, by event name.",
		}, []string{"event"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "executions_total",
			Help:      "Settled executions, by outcome.",
		}, []string{"outcome", "cell_type"}),
		executionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "execution_seconds",
			Help:      "Wall time from executionStarted to settlement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cell_type"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "heartbeats_total",
			Help:      "Heartbeats emitted by this kernel, by status.",
		}, []string{"status"}),
		assignments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "assignments_total",
			Help:      "executionAssigned events emitted by this kernel.",
		}),
	}
	m.registry.MustRegister(
		m.eventsFolded,
		m.rejectedTransitions,
		m.executions,
		m.executionSeconds,
		m.heartbeats,
		m.assignments,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventFolded counts one folded event.
func (m *Metrics) EventFolded(event string, applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.eventsFolded.WithLabelValues(event).Inc()
		return
	}
	m.rejectedTransitions.WithLabelValues(event).Inc()
}

// ExecutionSettled records one settled execution and its duration.
func (m *Metrics) ExecutionSettled(outcome, cellType string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome, cellType).Inc()
	m.executionSeconds.WithLabelValues(cellType).Observe(d.Seconds())
}

// Heartbeat counts one emitted heartbeat.
func (m *Metrics) Heartbeat(status string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(status).Inc()
}

// Assigned counts one claimed entry.
func (m *Metrics) Assigned() {
	if m == nil {
		return
	}
	m.assignments.Inc()
}
