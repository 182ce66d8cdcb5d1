package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects per-session and per-frame counters for the streaming
// server. Outcomes are "done", "error", or "disconnected".
type Metrics struct {
	registry *prometheus.Registry

	sessionsTotal   *prometheus.CounterVec
	framesTotal     *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	activeSessions  prometheus.Gauge
}

// NewMetrics builds the metric set on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabrica",
			Name:      "sessions_total",
			Help:      "Generation sessions by terminal outcome.",
		}, []string{"outcome"}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabrica",
			Name:      "frames_total",
			Help:      "SSE frames emitted by event name.",
		}, []string{"event"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fabrica",
			Name:      "session_duration_seconds",
			Help:      "Wall time from session start to terminal frame.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabrica",
			Name:      "active_sessions",
			Help:      "Streams currently open.",
		}),
	}

	registry.MustRegister(m.sessionsTotal, m.framesTotal, m.sessionDuration, m.activeSessions)
	return m
}

// SessionStarted marks a stream open.
func (m *Metrics) SessionStarted() {
	m.activeSessions.Inc()
}

// SessionFinished records the session outcome and duration.
func (m *Metrics) SessionFinished(outcome string, seconds float64) {
	m.activeSessions.Dec()
	m.sessionsTotal.WithLabelValues(outcome).Inc()
	m.sessionDuration.Observe(seconds)
}

// FrameEmitted counts one emitted frame.
func (m *Metrics) FrameEmitted(event string) {
	m.framesTotal.WithLabelValues(event).Inc()
}

// Handler serves the metric set in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
