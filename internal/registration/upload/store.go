package upload

import (
	"context"
	"sync"

	"mkcompany/pkg/platform/sentinel"
)

// Object is a binary written to object storage.
type Object struct {
	Path        string
	ContentType string
	Data        []byte
}

// ObjectStore holds document binaries. Put never overwrites: an existing path
// yields sentinel.ErrConflict. Delete of a missing path is not an error.
type ObjectStore interface {
	Put(ctx context.Context, obj Object, onProgress func(written int64)) error
	Delete(ctx context.Context, path string) error
}

// ProgressReporter is implemented by object stores whose Put reports written bytes.
type ProgressReporter interface {
	ReportsProgress() bool
}

// MemoryStore is an in-process ObjectStore for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (s *MemoryStore) Put(ctx context.Context, obj Object, _ func(int64)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[obj.Path]; exists {
		return sentinel.ErrConflict
	}
	obj.Data = append([]byte(nil), obj.Data...)
	s.objects[obj.Path] = obj
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// Get returns the stored object at path.
func (s *MemoryStore) Get(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
