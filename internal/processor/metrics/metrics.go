package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the processor loop.
type Metrics struct {
	// Processed entries by outcome
	Outcomes *prometheus.CounterVec

	// Dropped entries by failure reason
	Dropped *prometheus.CounterVec

	// End-to-end Process latency
	ProcessLatency prometheus.Histogram

	// Stay points confirmed by the positioner
	StayPoints prometheus.Counter

	// Correlation notifications by result
	Notifications *prometheus.CounterVec
}

// New registers the processor metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the processor metrics on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_processor_entries_total",
			Help: "Queue entries processed by outcome",
		}, []string{"outcome"}), // outcome: "aggregated", "skipped", "dropped"

		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_processor_dropped_total",
			Help: "Queue entries dropped by failure reason",
		}, []string{"reason"}),

		ProcessLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dossier_processor_process_duration_seconds",
			Help:    "Duration of processing one queue entry",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		StayPoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "dossier_processor_stay_points_total",
			Help: "Stay points confirmed by the positioner",
		}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_processor_notifications_total",
			Help: "Correlation notifications by result",
		}, []string{"result"}), // result: "enqueued", "rejected"
	}
}

// ObserveProcess records one processed entry.
func (m *Metrics) ObserveProcess(outcome string, d time.Duration) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
		m.ProcessLatency.Observe(d.Seconds())
	}
}

// IncrementDropped records a dropped entry.
func (m *Metrics) IncrementDropped(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

// AddStayPoints records confirmed stay points.
func (m *Metrics) AddStayPoints(n int) {
	if m != nil && n > 0 {
		m.StayPoints.Add(float64(n))
	}
}

// IncrementNotification records a notification attempt.
func (m *Metrics) IncrementNotification(result string) {
	if m != nil {
		m.Notifications.WithLabelValues(result).Inc()
	}
}
