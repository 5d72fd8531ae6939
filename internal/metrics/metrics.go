// ABOUTME: Prometheus collectors for dispatched calls, streamed updates and service readiness.
// ABOUTME: All methods are safe on a nil *Metrics so metrics can be disabled by config.

// Package metrics exposes bridge activity as Prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default histogram buckets for call duration (in seconds)
var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics wraps the bridge's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	updatesTotal *prometheus.CounterVec

	activeStreams prometheus.Gauge
	serviceReady  prometheus.Gauge
}

// New creates collectors under namespace and registers them on a fresh registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of dispatched calls",
			},
			[]string{"kind", "status"},
		),

		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Time from dispatch to terminal outcome",
				Buckets:   defaultBuckets,
			},
			[]string{"kind"},
		),

		updatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_updates_total",
				Help:      "Streaming updates relayed to the registry",
			},
			[]string{"outcome"},
		),

		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streaming calls still executing",
		}),

		serviceReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_ready",
			Help:      "1 when the background service is connected",
		}),
	}

	registry.MustRegister(
		m.callsTotal,
		m.callDuration,
		m.updatesTotal,
		m.activeStreams,
		m.serviceReady,
	)
	return m
}

// RecordCall records a finished call of kind with its boundary status.
func (m *Metrics) RecordCall(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(kind, status).Inc()
	m.callDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordUpdate counts one streaming update as delivered or dropped.
func (m *Metrics) RecordUpdate(delivered bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "dropped"
	}
	m.updatesTotal.WithLabelValues(outcome).Inc()
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// StreamFinished decrements the active stream gauge.
func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

// SetServiceReady reflects service readiness.
func (m *Metrics) SetServiceReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.serviceReady.Set(1)
		return
	}
	m.serviceReady.Set(0)
}

// Handler returns an HTTP handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics disabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
