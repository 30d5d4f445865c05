package models

import (
	"strings"
	"time"
	"unicode/utf8"

	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
)

type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

const (
	maxTitleLength   = 200
	maxMessageLength = 4000
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeInfo, nil
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return t, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "type must be info, success, warning or error")
	}
}

// Notification is a message from an administrator to one user.
type Notification struct {
	ID        id.NotificationID `json:"id"`
	UserID    id.UserID         `json:"user_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Type      Type              `json:"type"`
	Read      bool              `json:"read"`
	CreatedBy *id.UserID        `json:"created_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Draft is the content of a notification before it is sent.
type Draft struct {
	UserID  id.UserID
	Title   string
	Message string
	Type    Type
}

func (d *Draft) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Message = strings.TrimSpace(d.Message)
	if d.Type == "" {
		d.Type = TypeInfo
	}
}

func (d Draft) Validate() error {
	fields := map[string]string{}
	if d.UserID.IsNil() {
		fields["user_id"] = "recipient is required"
	}
	switch n := utf8.RuneCountInString(d.Title); {
	case n == 0:
		fields["title"] = "title is required"
	case n > maxTitleLength:
		fields["title"] = "title is too long"
	}
	switch n := utf8.RuneCountInString(d.Message); {
	case n == 0:
		fields["message"] = "message is required"
	case n > maxMessageLength:
		fields["message"] = "message is too long"
	}
	if _, err := ParseType(string(d.Type)); err != nil {
		fields["type"] = "must be info, success, warning or error"
	}
	if len(fields) > 0 {
		return dErrors.WithFields(dErrors.CodeValidation, "notification is invalid", fields)
	}
	return nil
}
