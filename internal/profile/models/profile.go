// Package models defines user profiles: the stored role and account status
// that authorization decisions are based on.
package models

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
)

type Status string

const maxFullNameLength = 200

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.TrimSpace(s)); st {
	case StatusActive, StatusSuspended:
		return st, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "status must be active or suspended")
	}
}

type Profile struct {
	ID        id.UserID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	Role      id.Role   `json:"role"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProfile builds the profile created on first sign-in. An unknown role
// falls back to RoleUser.
func NewProfile(userID id.UserID, email string, role id.Role, now time.Time) *Profile {
	if !role.IsValid() {
		role = id.RoleUser
	}
	return &Profile{
		ID:        userID,
		Email:     strings.TrimSpace(email),
		Role:      role,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *Profile) IsActive() bool {
	return p.Status == StatusActive
}

// CanAdminister returns a forbidden error unless the profile is an active admin.
func (p *Profile) CanAdminister() error {
	if !p.IsActive() {
		return dErrors.New(dErrors.CodeForbidden, "account is suspended")
	}
	if !p.Role.IsAdmin() {
		return dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	return nil
}

func (p *Profile) ApplyRole(role id.Role, now time.Time) {
	p.Role = role
	p.UpdatedAt = now
}

func (p *Profile) ApplyStatus(status Status, now time.Time) {
	p.Status = status
	p.UpdatedAt = now
}

// Update is a change a user makes to their own profile. Nil fields are left
// as they are; role and status cannot be changed this way.
type Update struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
}

func (u *Update) Normalize() {
	if u.FullName != nil {
		v := strings.TrimSpace(*u.FullName)
		u.FullName = &v
	}
	if u.Email != nil {
		v := strings.ToLower(strings.TrimSpace(*u.Email))
		u.Email = &v
	}
}

func (u *Update) Validate() error {
	fields := map[string]string{}
	if u.FullName == nil && u.Email == nil {
		return dErrors.New(dErrors.CodeBadRequest, "nothing to update")
	}
	if u.FullName != nil && utf8.RuneCountInString(*u.FullName) > maxFullNameLength {
		fields["full_name"] = "full name is too long"
	}
	if u.Email != nil && !emailPattern.MatchString(*u.Email) {
		fields["email"] = "must be a valid email address"
	}
	if len(fields) > 0 {
		return dErrors.WithFields(dErrors.CodeValidation, "invalid profile update", fields)
	}
	return nil
}

// ApplyUpdate copies the set fields of u and reports whether anything changed.
func (p *Profile) ApplyUpdate(u Update, now time.Time) bool {
	changed := false
	if u.FullName != nil && *u.FullName != p.FullName {
		p.FullName = *u.FullName
		changed = true
	}
	if u.Email != nil && *u.Email != p.Email {
		p.Email = *u.Email
		changed = true
	}
	if changed {
		p.UpdatedAt = now
	}
	return changed
}
