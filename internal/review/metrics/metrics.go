package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the admin back-office.
type Metrics struct {
	StatusChanges   *prometheus.CounterVec
	DocumentReviews *prometheus.CounterVec
	Denied          *prometheus.CounterVec
	Conflicts       prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		StatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mkcompany_review_status_changes_total",
			Help: "Registration status changes made by administrators, by target status",
		}, []string{"status"}),
		DocumentReviews: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mkcompany_review_document_decisions_total",
			Help: "Document review decisions, by outcome",
		}, []string{"outcome"}),
		Denied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mkcompany_review_denied_total",
			Help: "Back-office operations refused after re-checking the acting profile",
		}, []string{"operation"}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mkcompany_review_conflicts_total",
			Help: "Status changes rejected as illegal or concurrent",
		}),
	}
}

func (m *Metrics) IncStatusChange(status string) {
	m.StatusChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) IncDocumentReview(outcome string) {
	m.DocumentReviews.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncDenied(operation string) {
	m.Denied.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncConflict() {
	m.Conflicts.Inc()
}
