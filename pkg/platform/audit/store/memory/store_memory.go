package memory

import (
	"context"
	"maps"
	"sync"

	audit "mkcompany/pkg/platform/audit"
)

// InMemoryStore keeps admin actions in insertion order. Used when no
// database is configured and in tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	actions []audit.AdminAction
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, action audit.AdminAction) error {
	action.Metadata = maps.Clone(action.Metadata)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

// ListRecent returns up to limit actions, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.AdminAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.actions) {
		limit = len(s.actions)
	}
	out := make([]audit.AdminAction, 0, limit)
	for i := len(s.actions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.actions[i])
	}
	return out, nil
}
