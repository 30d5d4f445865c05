package models

import (
	"time"

	id "mkcompany/pkg/domain"
)

// UploadStatus tracks one file through the upload queue.
type UploadStatus string

const (
	UploadStatusQueued    UploadStatus = "queued"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusDone      UploadStatus = "done"
	UploadStatusFailed    UploadStatus = "failed"
)

func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusDone || s == UploadStatusFailed
}

// UploadEntry is the local tracking record of one upload. Entries are not
// persisted with the registration; successful ones point at their Document.
type UploadEntry struct {
	ID           string         `json:"id"`
	DocumentType DocumentType   `json:"document_type"`
	Filename     string         `json:"filename"`
	Status       UploadStatus   `json:"status"`
	Progress     int            `json:"progress"`
	DocumentID   *id.DocumentID `json:"document_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
