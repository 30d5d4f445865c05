// Package store persists registrations, their documents and the jurisdiction
// lookup table, in Postgres or in memory.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"mkcompany/internal/registration/models"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
)

// OwnerLookup resolves the owner summary attached to admin listings.
type OwnerLookup func(ctx context.Context, userID id.UserID) (*models.Owner, bool)

// InMemoryStore mirrors PostgresStore, including the one-open-registration
// rule, for development and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	registrations map[id.RegistrationID]*models.Registration
	documents     map[id.DocumentID]*models.Document
	jurisdictions map[id.JurisdictionID]*models.Jurisdiction
	payments      map[id.PaymentID]*models.Payment
	owners        OwnerLookup
}

type MemoryOption func(*InMemoryStore)

func WithOwnerLookup(lookup OwnerLookup) MemoryOption {
	return func(s *InMemoryStore) {
		s.owners = lookup
	}
}

// WithJurisdictions replaces the default jurisdiction seed.
func WithJurisdictions(js ...models.Jurisdiction) MemoryOption {
	return func(s *InMemoryStore) {
		s.jurisdictions = make(map[id.JurisdictionID]*models.Jurisdiction, len(js))
		for _, j := range js {
			s.jurisdictions[j.ID] = &j
		}
	}
}

func NewInMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		registrations: make(map[id.RegistrationID]*models.Registration),
		documents:     make(map[id.DocumentID]*models.Document),
		jurisdictions: make(map[id.JurisdictionID]*models.Jurisdiction),
		payments:      make(map[id.PaymentID]*models.Payment),
	}
	now := time.Now().UTC()
	for _, seed := range []struct {
		name string
		code string
		fee  int64
	}{
		{"Delaware", "DE", 9000},
		{"Wyoming", "WY", 10200},
		{"Florida", "FL", 12500},
		{"New Mexico", "NM", 5000},
		{"Nevada", "NV", 42500},
	} {
		j := &models.Jurisdiction{
			ID:            id.JurisdictionID(uuid.New()),
			Name:          seed.name,
			Code:          seed.code,
			StateFeeCents: seed.fee,
			IsActive:      true,
			CreatedAt:     now,
		}
		s.jurisdictions[j.ID] = j
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) FindLatestByUser(_ context.Context, userID id.UserID) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Registration
	for _, r := range s.registrations {
		if r.UserID != userID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return latest.Clone(), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, registrationID id.RegistrationID) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[registrationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) SaveDraft(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.registrations[reg.ID]; ok {
		if existing.UserID != reg.UserID || !existing.Status.IsEditable() {
			return sentinel.ErrInvalidState
		}
		updated := reg.Clone()
		updated.CreatedAt = existing.CreatedAt
		updated.CompletedAt = existing.CompletedAt
		s.registrations[reg.ID] = updated
		return nil
	}
	if reg.Status.IsOpen() && s.hasOpenLocked(reg.UserID, reg.ID) {
		return sentinel.ErrConflict
	}
	s.registrations[reg.ID] = reg.Clone()
	return nil
}

func (s *InMemoryStore) hasOpenLocked(userID id.UserID, except id.RegistrationID) bool {
	for _, r := range s.registrations {
		if r.UserID == userID && r.ID != except && r.Status.IsOpen() {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) Finalize(_ context.Context, registrationID id.RegistrationID, userID id.UserID, now time.Time) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[registrationID]
	if !ok || r.UserID != userID {
		return nil, sentinel.ErrNotFound
	}
	if !r.Status.IsEditable() {
		return nil, sentinel.ErrInvalidState
	}
	r.Status = models.StatusPendingReview
	r.CurrentStep = models.StepReview
	completed := now
	r.CompletedAt = &completed
	r.UpdatedAt = now
	return r.Clone(), nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, registrationID id.RegistrationID, from, to models.Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[registrationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if r.Status != from {
		return sentinel.ErrInvalidState
	}
	if to.IsOpen() && !from.IsOpen() && s.hasOpenLocked(r.UserID, r.ID) {
		return sentinel.ErrConflict
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) ListAll(ctx context.Context) ([]models.RegistrationView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	views := make([]models.RegistrationView, 0, len(s.registrations))
	for _, r := range s.registrations {
		view := models.RegistrationView{
			Registration: r.Clone(),
			Documents:    s.documentsLocked(r.ID),
		}
		if r.JurisdictionID != nil {
			if j, ok := s.jurisdictions[*r.JurisdictionID]; ok {
				jc := *j
				view.Jurisdiction = &jc
			}
		}
		view.Owner = s.owner(ctx, r.UserID)
		views = append(views, view)
	}
	slices.SortFunc(views, func(a, b models.RegistrationView) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return views, nil
}

func (s *InMemoryStore) owner(ctx context.Context, userID id.UserID) *models.Owner {
	if s.owners == nil {
		return nil
	}
	if owner, ok := s.owners(ctx, userID); ok {
		return owner
	}
	return nil
}

func (s *InMemoryStore) Stats(_ context.Context, now time.Time) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &models.Stats{}
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusSucceeded {
			st.TotalRevenueCents += p.AmountCents
		}
	}
	today := startOfDay(now)
	for _, r := range s.registrations {
		st.Count(r.Status)
		if !r.CreatedAt.Before(today) {
			st.RegistrationsToday++
		}
	}
	for _, d := range s.documents {
		if d.Status == models.DocumentStatusPending {
			st.PendingDocumentReviews++
		}
	}
	return st, nil
}

func (s *InMemoryStore) InsertPayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; ok {
		return sentinel.ErrConflict
	}
	c := *p
	s.payments[p.ID] = &c
	return nil
}

// ListPayments returns every payment with its owner, newest first.
func (s *InMemoryStore) ListPayments(ctx context.Context) ([]models.PaymentView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PaymentView, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, models.PaymentView{Payment: *p, Owner: s.owner(ctx, p.UserID)})
	}
	slices.SortFunc(out, func(a, b models.PaymentView) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) InsertDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[doc.RegistrationID]; !ok {
		return sentinel.ErrNotFound
	}
	for _, d := range s.documents {
		if d.StoragePath == doc.StoragePath {
			return sentinel.ErrConflict
		}
	}
	if _, ok := s.documents[doc.ID]; ok {
		return sentinel.ErrConflict
	}
	d := *doc
	s.documents[doc.ID] = &d
	return nil
}

func (s *InMemoryStore) ListDocuments(_ context.Context, registrationID id.RegistrationID) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentsLocked(registrationID), nil
}

func (s *InMemoryStore) documentsLocked(registrationID id.RegistrationID) []models.Document {
	docs := []models.Document{}
	for _, d := range s.documents {
		if d.RegistrationID == registrationID {
			docs = append(docs, *d)
		}
	}
	slices.SortFunc(docs, func(a, b models.Document) int {
		return a.UploadedAt.Compare(b.UploadedAt)
	})
	return docs
}

// ListAllDocuments returns every document with its owner, newest upload first.
func (s *InMemoryStore) ListAllDocuments(ctx context.Context) ([]models.DocumentView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DocumentView, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, models.DocumentView{Document: *d, Owner: s.owner(ctx, d.UserID)})
	}
	slices.SortFunc(out, func(a, b models.DocumentView) int {
		return b.UploadedAt.Compare(a.UploadedAt)
	})
	return out, nil
}

func (s *InMemoryStore) FindDocument(_ context.Context, documentID id.DocumentID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[documentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (s *InMemoryStore) UpdateDocumentReview(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[doc.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	d.Status = doc.Status
	d.ReviewedBy = doc.ReviewedBy
	d.ReviewedAt = doc.ReviewedAt
	d.AdminNotes = doc.AdminNotes
	return nil
}

func (s *InMemoryStore) ListJurisdictions(_ context.Context) ([]models.Jurisdiction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Jurisdiction{}
	for _, j := range s.jurisdictions {
		if j.IsActive {
			out = append(out, *j)
		}
	}
	slices.SortFunc(out, func(a, b models.Jurisdiction) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *InMemoryStore) FindJurisdiction(_ context.Context, jurisdictionID id.JurisdictionID) (*models.Jurisdiction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jurisdictions[jurisdictionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *j
	return &c, nil
}
