package models

import (
	"time"

	id "mkcompany/pkg/domain"
)

// Jurisdiction is a state a company can be registered in.
type Jurisdiction struct {
	ID            id.JurisdictionID `json:"id"`
	Name          string            `json:"name"`
	Code          string            `json:"code"`
	StateFeeCents int64             `json:"state_fee_cents"`
	IsActive      bool              `json:"is_active"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Stats is the back-office aggregate over registrations, documents and payments.
type Stats struct {
	TotalRegistrations     int   `json:"total_registrations"`
	DraftRegistrations     int   `json:"draft_registrations"`
	PendingDocuments       int   `json:"pending_documents"`
	PendingReview          int   `json:"pending_review"`
	ApprovedRegistrations  int   `json:"approved_registrations"`
	RejectedRegistrations  int   `json:"rejected_registrations"`
	PendingDocumentReviews int   `json:"pending_document_reviews"`
	RegistrationsToday     int   `json:"registrations_today"`
	TotalRevenueCents      int64 `json:"total_revenue_cents"`
}

// Count adds one registration with status st to the per-status counters.
func (s *Stats) Count(st Status) {
	s.TotalRegistrations++
	switch st {
	case StatusDraft:
		s.DraftRegistrations++
	case StatusPendingDocuments:
		s.PendingDocuments++
	case StatusPendingReview:
		s.PendingReview++
	case StatusApproved:
		s.ApprovedRegistrations++
	case StatusRejected:
		s.RejectedRegistrations++
	}
}
