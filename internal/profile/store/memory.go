// Package store persists user profiles.
package store

import (
	"context"
	"slices"
	"sync"

	"mkcompany/internal/profile/models"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[id.UserID]*models.Profile
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[id.UserID]*models.Profile)}
}

func (s *InMemoryStore) FindByID(_ context.Context, userID id.UserID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *p
	return &c, nil
}

// List returns every profile, newest first.
func (s *InMemoryStore) List(_ context.Context) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b models.Profile) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// Create inserts p, or returns sentinel.ErrConflict if the user already has a profile.
func (s *InMemoryStore) Create(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return sentinel.ErrConflict
	}
	c := *p
	s.profiles[p.ID] = &c
	return nil
}

// Execute runs validate then mutate on the stored profile under the store
// lock. Nothing is written if validate fails.
func (s *InMemoryStore) Execute(_ context.Context, userID id.UserID, validate func(*models.Profile) error, mutate func(*models.Profile)) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	work := *p
	if err := validate(&work); err != nil {
		return nil, err
	}
	mutate(&work)
	*p = work
	c := work
	return &c, nil
}
