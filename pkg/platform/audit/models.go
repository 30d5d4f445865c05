// Package audit records administrative mutations in an append-only log.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	id "mkcompany/pkg/domain"
)

// ActionType names an administrative mutation.
type ActionType string

const (
	ActionRegistrationStatusChanged ActionType = "registration_status_changed"
	ActionDocumentReviewed          ActionType = "document_reviewed"
	ActionUserStatusChanged         ActionType = "user_status_changed"
	ActionUserRoleChanged           ActionType = "user_role_changed"
	ActionNotificationSent          ActionType = "notification_sent"
)

// Target types.
const (
	TargetRegistration = "registration"
	TargetDocument     = "document"
	TargetProfile      = "profile"
	TargetNotification = "notification"
)

// SystemActor is recorded as the admin of actions taken through the ops
// token rather than by a signed-in administrator.
var SystemActor = id.UserID(uuid.MustParse("00000000-0000-0000-0000-000000000001"))

// AdminAction is one entry of the admin-action log. Entries are never
// updated or deleted.
type AdminAction struct {
	ID           id.AdminActionID  `json:"id"`
	AdminID      id.UserID         `json:"admin_id"`
	TargetUserID *id.UserID        `json:"target_user_id,omitempty"`
	ActionType   ActionType        `json:"action_type"`
	TargetType   string            `json:"target_type"`
	TargetID     string            `json:"target_id"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

var (
	errMissingAdmin  = errors.New("admin action requires an admin id")
	errMissingAction = errors.New("admin action requires an action type")
)

// Validate checks the fields every entry must carry.
func (a AdminAction) Validate() error {
	if a.AdminID.IsNil() {
		return errMissingAdmin
	}
	if a.ActionType == "" {
		return errMissingAction
	}
	return nil
}

// Store persists admin actions.
type Store interface {
	Append(ctx context.Context, action AdminAction) error
	ListRecent(ctx context.Context, limit int) ([]AdminAction, error)
}
