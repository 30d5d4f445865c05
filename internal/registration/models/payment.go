package models

import (
	"time"

	id "mkcompany/pkg/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment is a charge for a registration. Only succeeded payments count as revenue.
type Payment struct {
	ID             id.PaymentID       `json:"id"`
	RegistrationID *id.RegistrationID `json:"registration_id,omitempty"`
	UserID         id.UserID          `json:"user_id"`
	AmountCents    int64              `json:"amount_cents"`
	Currency       string             `json:"currency"`
	Status         PaymentStatus      `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
}

// PaymentView is a payment with its owner's profile summary.
type PaymentView struct {
	Payment
	Owner *Owner `json:"owner,omitempty"`
}

// DocumentView is a document with its owner's profile summary.
type DocumentView struct {
	Document
	Owner *Owner `json:"owner,omitempty"`
}
