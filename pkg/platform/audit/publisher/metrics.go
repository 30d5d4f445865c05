package publisher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Emitted         *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Emitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mkcompany_admin_actions_recorded_total",
			Help: "Admin actions stored in the audit log, by action type",
		}, []string{"action_type"}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mkcompany_admin_actions_persist_failures_total",
			Help: "Admin actions that could not be stored; the mutation was refused",
		}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mkcompany_admin_actions_persist_duration_seconds",
			Help:    "Time to store one admin action",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) IncEmitted(actionType string) {
	m.Emitted.WithLabelValues(actionType).Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

func (m *Metrics) ObservePersistDuration(d time.Duration) {
	m.PersistDuration.Observe(d.Seconds())
}
