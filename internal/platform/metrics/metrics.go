// Package metrics holds process-wide Prometheus collectors that do not belong
// to a single domain package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks worker lifecycle and collaborator health.
type Metrics struct {
	WorkersRunning prometheus.Gauge
	BreakerOpen    *prometheus.GaugeVec
	HealthFailures *prometheus.CounterVec
}

// New creates and registers all platform metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WorkersRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dossier_workers_running",
			Help: "Number of processor loops currently running",
		}),
		BreakerOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dossier_circuit_breaker_open",
			Help: "1 when the named circuit breaker is open",
		}, []string{"name"}),
		HealthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_health_check_failures_total",
			Help: "Failed health checks by dependency",
		}, []string{"dependency"}),
	}
}

// WorkerStarted increments the running worker gauge.
func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.WorkersRunning.Inc()
	}
}

// WorkerStopped decrements the running worker gauge.
func (m *Metrics) WorkerStopped() {
	if m != nil {
		m.WorkersRunning.Dec()
	}
}

// SetBreakerOpen records the state of a circuit breaker.
func (m *Metrics) SetBreakerOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerOpen.WithLabelValues(name).Set(v)
}

// IncrementHealthFailure counts a failed dependency check.
func (m *Metrics) IncrementHealthFailure(dependency string) {
	if m != nil {
		m.HealthFailures.WithLabelValues(dependency).Inc()
	}
}
