// Package store persists notifications.
package store

import (
	"context"
	"slices"
	"sync"

	"mkcompany/internal/notification/models"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu            sync.RWMutex
	notifications map[id.NotificationID]*models.Notification
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{notifications: make(map[id.NotificationID]*models.Notification)}
}

func (s *InMemoryStore) Insert(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; ok {
		return sentinel.ErrConflict
	}
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

// ListForUser returns up to limit notifications of userID, newest first.
func (s *InMemoryStore) ListForUser(_ context.Context, userID id.UserID, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Notification{}
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	slices.SortFunc(out, func(a, b models.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListAll returns up to limit notifications of every user, newest first.
func (s *InMemoryStore) ListAll(_ context.Context, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, *n)
	}
	slices.SortFunc(out, func(a, b models.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRead marks the notification read if it belongs to userID. Another
// user's notification is reported as not found.
func (s *InMemoryStore) MarkRead(_ context.Context, notificationID id.NotificationID, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[notificationID]
	if !ok || n.UserID != userID {
		return sentinel.ErrNotFound
	}
	n.Read = true
	return nil
}
