package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
)

func TestStatus_AdminTransitions(t *testing.T) {
	legal := map[Status][]Status{
		StatusDraft:            {StatusRejected},
		StatusPendingDocuments: {StatusPendingReview, StatusRejected},
		StatusPendingReview:    {StatusApproved, StatusRejected, StatusPendingDocuments},
		StatusRejected:         {StatusPendingReview},
	}

	for _, from := range Statuses {
		for _, to := range Statuses {
			want := false
			for _, allowed := range legal[from] {
				if allowed == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_ApprovedIsTerminal(t *testing.T) {
	assert.Empty(t, StatusApproved.AllowedTransitions())
}

func TestStatus_AllowedTransitionsIsACopy(t *testing.T) {
	got := StatusPendingReview.AllowedTransitions()
	got[0] = StatusDraft
	assert.True(t, StatusPendingReview.CanTransitionTo(StatusApproved))
}

func TestStatus_OpenAndEditable(t *testing.T) {
	assert.True(t, StatusDraft.IsOpen())
	assert.True(t, StatusPendingReview.IsOpen())
	assert.False(t, StatusApproved.IsOpen())
	assert.False(t, StatusRejected.IsOpen())

	assert.True(t, StatusPendingDocuments.IsEditable())
	assert.False(t, StatusPendingReview.IsEditable())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("pending_review")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, st)

	_, err = ParseStatus("archived")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestStep_Navigation(t *testing.T) {
	assert.Equal(t, StepCompany, StepPersonal.Next())
	assert.Equal(t, StepReview, StepReview.Next())
	assert.Equal(t, StepPersonal, StepPersonal.Prev())
	assert.Equal(t, StepDocuments, StepReview.Prev())
	assert.False(t, Step(5).IsValid())
	assert.Equal(t, "documents", StepDocuments.String())
}

func TestStepData_ApplyToIsIdempotent(t *testing.T) {
	name := "Acme Holdings"
	partners := 2
	j := id.JurisdictionID(uuid.New())
	data := StepData{CompanyName: &name, NumberOfPartners: &partners, JurisdictionID: &j}

	once := NewDraft(id.UserID(uuid.New()), "ada@example.com")
	data.ApplyTo(once)

	twice := once.Clone()
	data.ApplyTo(twice)
	data.ApplyTo(twice)

	assert.Equal(t, once, twice)
	assert.Equal(t, "ada@example.com", twice.Email, "nil fields are left untouched")
}

func TestStepData_Normalize(t *testing.T) {
	email := "  Ada@Example.com "
	first := " Ada "
	data := StepData{Email: &email, FirstName: &first}
	data.Normalize()
	assert.Equal(t, "ada@example.com", *data.Email)
	assert.Equal(t, "Ada", *data.FirstName)
}

func TestRegistration_CloneIsDeep(t *testing.T) {
	j := id.JurisdictionID(uuid.New())
	r := &Registration{JurisdictionID: &j}
	c := r.Clone()
	*c.JurisdictionID = id.JurisdictionID(uuid.New())
	assert.Equal(t, j, *r.JurisdictionID)
}

func TestStats_Count(t *testing.T) {
	var s Stats
	for _, st := range []Status{StatusDraft, StatusPendingReview, StatusPendingReview, StatusApproved} {
		s.Count(st)
	}
	assert.Equal(t, 4, s.TotalRegistrations)
	assert.Equal(t, 2, s.PendingReview)
	assert.Equal(t, 1, s.ApprovedRegistrations)
}
