package models

import (
	"slices"

	dErrors "mkcompany/pkg/domain-errors"
)

// Status is the workflow state of a registration.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusPendingDocuments Status = "pending_documents"
	StatusPendingReview    Status = "pending_review"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
)

// Statuses lists every status in workflow order.
var Statuses = []Status{
	StatusDraft,
	StatusPendingDocuments,
	StatusPendingReview,
	StatusApproved,
	StatusRejected,
}

// adminTransitions is the moderation state machine. Approved is terminal;
// a rejected registration can only be reopened for review.
var adminTransitions = map[Status][]Status{
	StatusDraft:            {StatusRejected},
	StatusPendingDocuments: {StatusPendingReview, StatusRejected},
	StatusPendingReview:    {StatusApproved, StatusRejected, StatusPendingDocuments},
	StatusRejected:         {StatusPendingReview},
	StatusApproved:         nil,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown registration status")
	}
	return st, nil
}

func (s Status) IsValid() bool {
	return slices.Contains(Statuses, s)
}

// IsOpen reports whether the registration counts against the one-open-registration-per-user rule.
func (s Status) IsOpen() bool {
	return s == StatusDraft || s == StatusPendingDocuments || s == StatusPendingReview
}

// IsEditable reports whether the owner may still change the registration.
func (s Status) IsEditable() bool {
	return s == StatusDraft || s == StatusPendingDocuments
}

// CanTransitionTo reports whether an administrator may move a registration from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(adminTransitions[s], next)
}

// AllowedTransitions returns the statuses an administrator may move s to.
func (s Status) AllowedTransitions() []Status {
	return slices.Clone(adminTransitions[s])
}

func (s Status) String() string {
	return string(s)
}
