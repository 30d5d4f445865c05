package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registration wizard and document uploads.
type Metrics struct {
	StepsAdvanced    *prometheus.CounterVec
	AdvanceFailures  *prometheus.CounterVec
	Finalized        prometheus.Counter
	UploadsTotal     *prometheus.CounterVec
	UploadBytes      prometheus.Histogram
	UploadDuration   prometheus.Histogram
	ActiveController prometheus.Gauge
}

// New creates a new Metrics instance with all registration metrics registered.
func New() *Metrics {
	return &Metrics{
		StepsAdvanced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mkcompany_registration_steps_advanced_total",
			Help: "Wizard steps completed, by the step that was left",
		}, []string{"step"}),
		AdvanceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mkcompany_registration_advance_failures_total",
			Help: "Rejected wizard advances, by reason (validation, persistence, state)",
		}, []string{"reason"}),
		Finalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mkcompany_registrations_finalized_total",
			Help: "Registrations submitted for review",
		}),
		UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mkcompany_document_uploads_total",
			Help: "Document uploads by document type and result",
		}, []string{"document_type", "result"}),
		UploadBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mkcompany_document_upload_bytes",
			Help:    "Size of stored documents",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 7),
		}),
		UploadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mkcompany_document_upload_duration_seconds",
			Help:    "Time from accepted file to stored metadata row",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ActiveController: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mkcompany_registration_sessions_active",
			Help: "Wizard sessions currently held in memory",
		}),
	}
}

func (m *Metrics) IncrementStepAdvanced(step string) {
	m.StepsAdvanced.WithLabelValues(step).Inc()
}

func (m *Metrics) IncrementAdvanceFailure(reason string) {
	m.AdvanceFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementFinalized() {
	m.Finalized.Inc()
}

// ObserveUpload records a finished upload attempt.
// Call with time.Now() taken when the file was accepted.
func (m *Metrics) ObserveUpload(documentType, result string, size int64, start time.Time) {
	m.UploadsTotal.WithLabelValues(documentType, result).Inc()
	if result == "success" {
		m.UploadBytes.Observe(float64(size))
		m.UploadDuration.Observe(time.Since(start).Seconds())
	}
}
