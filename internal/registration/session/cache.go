package session

import (
	"context"
	"sync"

	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
)

// Cache keeps wizard snapshots between requests and across instances.
type Cache interface {
	// Load returns sentinel.ErrNotFound when no snapshot is stored.
	Load(ctx context.Context, userID id.UserID) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, userID id.UserID) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	snaps map[id.UserID]Snapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{snaps: make(map[id.UserID]Snapshot)}
}

func (m *MemoryCache) Load(_ context.Context, userID id.UserID) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &snap, nil
}

func (m *MemoryCache) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.UserID] = snap
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, userID id.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, userID)
	return nil
}
