// Package validation checks wizard step fields. Every function is pure.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"mkcompany/internal/registration/models"
	dErrors "mkcompany/pkg/domain-errors"
)

const minCompanyNameLength = 3

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// BusinessTypes are the suggestions offered for business_type. Free text is accepted.
var BusinessTypes = []string{
	"SaaS",
	"E-commerce",
	"Consulting",
	"Marketing Digital",
	"Développement Web",
	"Design",
	"Formation",
	"Autre",
}

// FieldErrors maps a field name to its message. A missing key means the field is valid.
type FieldErrors map[string]string

func (fe FieldErrors) OK() bool {
	return len(fe) == 0
}

// Err converts fe into a validation error carrying the fields, or nil when fe is empty.
func (fe FieldErrors) Err() error {
	if fe.OK() {
		return nil
	}
	return dErrors.WithFields(dErrors.CodeValidation, "step has invalid fields", fe)
}

// ValidateStep checks the fields step requires on the merged registration r.
// Step 3 has no field rules; its gate is HasRequiredDocuments.
func ValidateStep(step models.Step, r *models.Registration) FieldErrors {
	errs := FieldErrors{}
	switch step {
	case models.StepPersonal:
		if strings.TrimSpace(r.FirstName) == "" {
			errs["first_name"] = "first name is required"
		}
		if strings.TrimSpace(r.LastName) == "" {
			errs["last_name"] = "last name is required"
		}
		if !emailPattern.MatchString(strings.TrimSpace(r.Email)) {
			errs["email"] = "email is invalid"
		}
	case models.StepCompany:
		if utf8.RuneCountInString(strings.TrimSpace(r.CompanyName)) < minCompanyNameLength {
			errs["company_name"] = "company name must be at least 3 characters"
		}
		if r.JurisdictionID == nil || r.JurisdictionID.IsNil() {
			errs["jurisdiction_id"] = "jurisdiction is required"
		}
		if strings.TrimSpace(r.BusinessType) == "" {
			errs["business_type"] = "business type is required"
		}
		if r.NumberOfPartners < 1 {
			errs["number_of_partners"] = "at least one partner is required"
		}
	}
	return errs
}

// HasRequiredDocuments reports whether entries contain a done upload for every
// required document type.
func HasRequiredDocuments(entries []models.UploadEntry) bool {
	seen := make(map[models.DocumentType]bool, len(models.RequiredDocumentTypes))
	for _, e := range entries {
		if e.Status == models.UploadStatusDone {
			seen[e.DocumentType] = true
		}
	}
	for _, t := range models.RequiredDocumentTypes {
		if !seen[t] {
			return false
		}
	}
	return true
}
