package session

import (
	"context"
	"time"

	"mkcompany/internal/registration/models"
	id "mkcompany/pkg/domain"
)

// interruptedReason marks uploads that were in flight when a session was lost.
const interruptedReason = "upload was interrupted, please try again"

// Snapshot is the local part of a wizard: what the database does not know.
// It lets a user resume on another instance, or after eviction, with the same
// step and failed uploads still listed.
type Snapshot struct {
	UserID         id.UserID            `json:"user_id"`
	RegistrationID *id.RegistrationID   `json:"registration_id,omitempty"`
	Step           models.Step          `json:"step"`
	Uploads        []models.UploadEntry `json:"uploads"`
	LastError      string               `json:"last_error,omitempty"`
	SavedAt        time.Time            `json:"saved_at"`
}

// Snapshot captures the controller's local state.
func (c *Controller) Snapshot() Snapshot {
	entries := c.queue.Entries()
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{
		UserID:    c.principal.UserID,
		Step:      c.step,
		Uploads:   entries,
		LastError: c.lastError,
		SavedAt:   c.now().UTC(),
	}
	if c.draft != nil && c.draft.IsPersisted() {
		regID := c.draft.ID
		snap.RegistrationID = &regID
	}
	return snap
}

// Restore applies a snapshot on top of hydrated state. It is ignored when it
// belongs to a different registration. The stored step remains an upper bound,
// and uploads that were still running are reported as failed.
func (c *Controller) Restore(snap Snapshot) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.restoreLocked(snap)
}

func (c *Controller) restoreLocked(snap Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hydrated || snap.UserID != c.principal.UserID {
		return false
	}
	var current id.RegistrationID
	if c.draft.IsPersisted() {
		current = c.draft.ID
	}
	var snapped id.RegistrationID
	if snap.RegistrationID != nil {
		snapped = *snap.RegistrationID
	}
	if current != snapped {
		return false
	}

	if snap.Step.IsValid() && snap.Step <= c.draft.CurrentStep && c.draft.IsEditable() {
		c.step = snap.Step
	}
	c.lastError = snap.LastError

	entries := c.queue.Entries()
	known := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		known[e.ID] = struct{}{}
	}
	for _, e := range snap.Uploads {
		if _, ok := known[e.ID]; ok {
			continue
		}
		switch e.Status {
		case models.UploadStatusFailed:
		case models.UploadStatusQueued, models.UploadStatusUploading:
			e.Status = models.UploadStatusFailed
			e.Error = interruptedReason
		default:
			// done entries come back from the documents table
			continue
		}
		entries = append(entries, e)
	}
	c.queue.Restore(entries)
	return true
}

func (c *Controller) saveSnapshot(ctx context.Context) {
	if c.sink == nil {
		return
	}
	c.sink(ctx, c.Snapshot())
}
