// Package observability holds the Prometheus instruments a session exports.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courier"

// Metrics groups all Prometheus instruments used by a session. Each Metrics
// owns its registry so several sessions (and tests) can coexist.
type Metrics struct {
	registry *prometheus.Registry

	Events          *prometheus.CounterVec
	MalformedEvents *prometheus.CounterVec
	StaleEvents     *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	Stalls          *prometheus.CounterVec
	Removals        *prometheus.CounterVec
	ControlRequests *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	Mutations       *prometheus.CounterVec
	TrackedTasks    *prometheus.GaugeVec
	StreamConnected prometheus.Gauge
	ControlLatency  *prometheus.HistogramVec
	JournalDropped  prometheus.GaugeFunc
}

// New builds the instruments on a fresh registry. dropped, when non-nil,
// reports the journal overflow count.
func New(dropped func() int64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{registry: reg}
	m.Events = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Backend events delivered, by channel.",
	}, []string{"channel"})
	m.MalformedEvents = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_events_total",
		Help:      "Events dropped at the gateway for missing or invalid fields.",
	}, []string{"channel"})
	m.StaleEvents = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_events_total",
		Help:      "Events ignored because their task was finished or gone.",
	}, []string{"channel"})
	m.Transitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Task status transitions, by pipeline and target status.",
	}, []string{"pipeline", "status"})
	m.Stalls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stalls_total",
		Help:      "Tasks the liveness monitor marked stalled.",
	}, []string{"pipeline"})
	m.Removals = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "removals_total",
		Help:      "Tasks dropped from the registry, by last status.",
	}, []string{"status"})
	m.ControlRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_requests_total",
		Help:      "Control RPCs dispatched, by method and outcome.",
	}, []string{"method", "outcome"})
	m.TransportErrors = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_errors_total",
		Help:      "Failed control RPCs, by method.",
	}, []string{"method"})
	m.Mutations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "render_mutations_total",
		Help:      "Renderer calls issued by the queue reconcilers.",
	}, []string{"pipeline", "op"})
	m.TrackedTasks = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_tasks",
		Help:      "Tasks currently held in the registry, by pipeline.",
	}, []string{"pipeline"})
	m.StreamConnected = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_stream_connected",
		Help:      "1 while the backend event stream is connected.",
	})
	m.ControlLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "control_latency_ms",
		Help:      "Round trip of control RPCs in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method"})
	if dropped != nil {
		m.JournalDropped = f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "journal_dropped_transitions",
			Help:      "Transitions discarded because the journal buffer was full.",
		}, func() float64 { return float64(dropped()) })
	}
	return m
}

// ObserveControl records one finished control request.
func (m *Metrics) ObserveControl(method string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.TransportErrors.WithLabelValues(method).Inc()
	}
	m.ControlRequests.WithLabelValues(method, outcome).Inc()
	m.ControlLatency.WithLabelValues(method).Observe(float64(d.Milliseconds()))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
