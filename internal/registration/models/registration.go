package models

import (
	"strings"
	"time"

	id "mkcompany/pkg/domain"
)

// Registration is a company registration, owned by its user until finalized.
//
// Invariants:
//   - UserID never changes after creation
//   - CurrentStep is within 1..4
//   - CompletedAt is set once, at finalize
//   - only draft and pending_documents registrations accept owner edits
type Registration struct {
	ID                  id.RegistrationID  `json:"id"`
	UserID              id.UserID          `json:"user_id"`
	Email               string             `json:"email"`
	FirstName           string             `json:"first_name"`
	LastName            string             `json:"last_name"`
	CompanyName         string             `json:"company_name"`
	NumberOfPartners    int                `json:"number_of_partners"`
	JurisdictionID      *id.JurisdictionID `json:"jurisdiction_id,omitempty"`
	BusinessType        string             `json:"business_type"`
	BusinessDescription string             `json:"business_description,omitempty"`
	CurrentStep         Step               `json:"current_step"`
	Status              Status             `json:"status"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
}

// NewDraft returns an unpersisted step-1 draft for userID.
func NewDraft(userID id.UserID, email string) *Registration {
	return &Registration{
		UserID:           userID,
		Email:            email,
		NumberOfPartners: 1,
		CurrentStep:      StepPersonal,
		Status:           StatusDraft,
	}
}

// IsPersisted reports whether the draft has been stored at least once.
func (r *Registration) IsPersisted() bool {
	return !r.ID.IsNil()
}

func (r *Registration) IsEditable() bool {
	return r.Status.IsEditable()
}

// Clone returns a deep copy.
func (r *Registration) Clone() *Registration {
	if r == nil {
		return nil
	}
	c := *r
	if r.JurisdictionID != nil {
		j := *r.JurisdictionID
		c.JurisdictionID = &j
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// StepData carries the fields submitted with one wizard step. Nil fields are
// left untouched on merge, so applying the same data twice is a no-op.
type StepData struct {
	Email               *string            `json:"email,omitempty"`
	FirstName           *string            `json:"first_name,omitempty"`
	LastName            *string            `json:"last_name,omitempty"`
	CompanyName         *string            `json:"company_name,omitempty"`
	NumberOfPartners    *int               `json:"number_of_partners,omitempty"`
	JurisdictionID      *id.JurisdictionID `json:"jurisdiction_id,omitempty"`
	BusinessType        *string            `json:"business_type,omitempty"`
	BusinessDescription *string            `json:"business_description,omitempty"`
}

// Normalize trims surrounding whitespace from every string field.
func (d *StepData) Normalize() {
	for _, f := range []*string{
		d.Email, d.FirstName, d.LastName, d.CompanyName, d.BusinessType, d.BusinessDescription,
	} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
	if d.Email != nil {
		*d.Email = strings.ToLower(*d.Email)
	}
}

// Validate is a no-op; step rules depend on the wizard position and are
// checked by the validation package once merged.
func (d *StepData) Validate() error {
	return nil
}

// ApplyTo merges the non-nil fields of d into r.
func (d StepData) ApplyTo(r *Registration) {
	if d.Email != nil {
		r.Email = *d.Email
	}
	if d.FirstName != nil {
		r.FirstName = *d.FirstName
	}
	if d.LastName != nil {
		r.LastName = *d.LastName
	}
	if d.CompanyName != nil {
		r.CompanyName = *d.CompanyName
	}
	if d.NumberOfPartners != nil {
		r.NumberOfPartners = *d.NumberOfPartners
	}
	if d.JurisdictionID != nil {
		j := *d.JurisdictionID
		r.JurisdictionID = &j
	}
	if d.BusinessType != nil {
		r.BusinessType = *d.BusinessType
	}
	if d.BusinessDescription != nil {
		r.BusinessDescription = *d.BusinessDescription
	}
}

// Owner is the profile summary attached to registrations in admin listings.
type Owner struct {
	ID       id.UserID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name,omitempty"`
	Status   string    `json:"status"`
}

// RegistrationView is a registration joined with its documents, jurisdiction and owner.
type RegistrationView struct {
	*Registration
	Documents    []Document    `json:"documents"`
	Jurisdiction *Jurisdiction `json:"jurisdiction,omitempty"`
	Owner        *Owner        `json:"owner,omitempty"`
}
