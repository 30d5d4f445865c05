package models

import (
	"time"

	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
)

type DocumentType string

const (
	DocumentTypePassport     DocumentType = "passport"
	DocumentTypeIdentityCard DocumentType = "identity_card"
	DocumentTypeOther        DocumentType = "other"
)

// RequiredDocumentTypes must each have a successful upload before finalize.
var RequiredDocumentTypes = []DocumentType{DocumentTypePassport, DocumentTypeIdentityCard}

func ParseDocumentType(s string) (DocumentType, error) {
	switch t := DocumentType(s); t {
	case DocumentTypePassport, DocumentTypeIdentityCard, DocumentTypeOther:
		return t, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown document type")
	}
}

type DocumentStatus string

const (
	DocumentStatusPending  DocumentStatus = "pending"
	DocumentStatusApproved DocumentStatus = "approved"
	DocumentStatusRejected DocumentStatus = "rejected"
)

func ParseDocumentStatus(s string) (DocumentStatus, error) {
	switch st := DocumentStatus(s); st {
	case DocumentStatusPending, DocumentStatusApproved, DocumentStatusRejected:
		return st, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown document status")
	}
}

// IsReviewOutcome reports whether st is a status a reviewer may set.
func (st DocumentStatus) IsReviewOutcome() bool {
	return st == DocumentStatusApproved || st == DocumentStatusRejected
}

// Document is the metadata row of an uploaded identity document.
type Document struct {
	ID               id.DocumentID     `json:"id"`
	RegistrationID   id.RegistrationID `json:"registration_id"`
	UserID           id.UserID         `json:"user_id"`
	DocumentType     DocumentType      `json:"document_type"`
	OriginalFilename string            `json:"original_filename"`
	StoragePath      string            `json:"storage_path"`
	FileSize         int64             `json:"file_size"`
	MimeType         string            `json:"mime_type"`
	Status           DocumentStatus    `json:"status"`
	ReviewedBy       *id.UserID        `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time        `json:"reviewed_at,omitempty"`
	AdminNotes       string            `json:"admin_notes,omitempty"`
	UploadedAt       time.Time         `json:"uploaded_at"`
}

// ApplyReview records a reviewer decision on the document.
func (d *Document) ApplyReview(status DocumentStatus, reviewer id.UserID, notes string, now time.Time) {
	d.Status = status
	d.ReviewedBy = &reviewer
	d.ReviewedAt = &now
	d.AdminNotes = notes
}
