// Package metrics defines the Prometheus collectors exported on /metrics.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schoolbus"

type Metrics struct {
	Registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	connections   prometheus.Gauge
	droppedEvents prometheus.Counter
	locations     *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	messages      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realtime_connections",
			Help: "Open realtime connections.",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "realtime_dropped_events_total",
			Help: "Events dropped because a connection's send buffer was full.",
		}),
		locations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "location_samples_total",
			Help: "Location submissions by outcome.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trip_transitions_total",
			Help: "Trip status transitions by target status and outcome.",
		}, []string{"to", "result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Messages persisted by type.",
		}, []string{"type"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.httpInFlight,
		m.connections, m.droppedEvents, m.locations, m.transitions, m.messages,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RequestStarted() {
	if m != nil {
		m.httpInFlight.Inc()
	}
}

func (m *Metrics) RequestFinished(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpInFlight.Dec()
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.droppedEvents.Inc()
	}
}

// Location records a submission outcome: accepted, forbidden or invalid.
func (m *Metrics) Location(result string) {
	if m != nil {
		m.locations.WithLabelValues(result).Inc()
	}
}

// Transition records a trip transition attempt: ok or rejected.
func (m *Metrics) Transition(to, result string) {
	if m != nil {
		m.transitions.WithLabelValues(to, result).Inc()
	}
}

func (m *Metrics) MessageSent(typ string) {
	if m != nil {
		m.messages.WithLabelValues(typ).Inc()
	}
}
