package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter holds the Prometheus collectors for one run.
type Exporter struct {
	registry *prometheus.Registry
	actions  *prometheus.CounterVec   // by protocol and outcome
	duration *prometheus.HistogramVec // by protocol
}

// NewExporter creates a private registry with the run collectors and the
// Go runtime collectors.
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iotnoise",
			Name:      "actions_total",
			Help:      "Total number of generated actions",
		}, []string{"protocol", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "iotnoise",
			Name:      "action_duration_seconds",
			Help:      "Round-trip time of completed actions in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"protocol"}),
	}
	e.registry.MustRegister(e.actions, e.duration, collectors.NewGoCollector())
	return e
}

// Observe records m.
func (e *Exporter) Observe(m Metric) {
	outcome := m.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	e.actions.WithLabelValues(m.Protocol, outcome).Inc()
	if m.Success && m.RTTMs > 0 {
		e.duration.WithLabelValues(m.Protocol).Observe(m.RTTMs / 1000)
	}
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
