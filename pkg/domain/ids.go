package domain

import (
	"github.com/google/uuid"

	dErrors "mkcompany/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so a RegistrationID can never be passed
// where a DocumentID is expected. Construct them from external input with the
// Parse* functions, which reject empty, malformed and nil UUIDs.
type (
	UserID         uuid.UUID
	RegistrationID uuid.UUID
	DocumentID     uuid.UUID
	JurisdictionID uuid.UUID
	NotificationID uuid.UUID
	AdminActionID  uuid.UUID
	PaymentID      uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return parsed, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}

func ParseRegistrationID(s string) (RegistrationID, error) {
	u, err := parseUUID("registration id", s)
	return RegistrationID(u), err
}

func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID("document id", s)
	return DocumentID(u), err
}

func ParseJurisdictionID(s string) (JurisdictionID, error) {
	u, err := parseUUID("jurisdiction id", s)
	return JurisdictionID(u), err
}

func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID("notification id", s)
	return NotificationID(u), err
}

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id RegistrationID) String() string { return uuid.UUID(id).String() }
func (id DocumentID) String() string     { return uuid.UUID(id).String() }
func (id JurisdictionID) String() string { return uuid.UUID(id).String() }
func (id NotificationID) String() string { return uuid.UUID(id).String() }
func (id AdminActionID) String() string  { return uuid.UUID(id).String() }
func (id PaymentID) String() string      { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id RegistrationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id JurisdictionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id NotificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AdminActionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id PaymentID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps ids readable in JSON payloads and Redis snapshots.

func (id UserID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id RegistrationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *RegistrationID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id DocumentID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *DocumentID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id JurisdictionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *JurisdictionID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id NotificationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *NotificationID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AdminActionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *AdminActionID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id PaymentID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *PaymentID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
