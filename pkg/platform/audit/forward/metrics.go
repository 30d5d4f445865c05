package forward

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Forwarded   prometheus.Counter
	SendErrors  prometheus.Counter
	Dropped     prometheus.Counter
	QueueLength prometheus.Gauge
	BreakerOpen prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Forwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mkcompany_admin_actions_forwarded_total",
			Help: "Admin actions delivered to the external sink",
		}),
		SendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mkcompany_admin_actions_forward_errors_total",
			Help: "Failed batch deliveries to the external sink",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mkcompany_admin_actions_forward_dropped_total",
			Help: "Admin actions discarded because the forward buffer was full",
		}),
		QueueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mkcompany_admin_actions_forward_queue_length",
			Help: "Admin actions waiting to be forwarded",
		}),
		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mkcompany_admin_actions_forward_breaker_open",
			Help: "1 while deliveries are suspended after repeated failures",
		}),
	}
}
