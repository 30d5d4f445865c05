package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mkcompany/internal/registration/metrics"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
)

const (
	DefaultIdleEvict     = 30 * time.Minute
	defaultJanitorPeriod = time.Minute
)

type managed struct {
	ctrl     *Controller
	ready    chan struct{}
	err      error
	lastUsed time.Time
}

// Manager keeps one Controller per user. Controllers are hydrated on first
// use, restored from the Cache when a snapshot exists, and evicted after
// IdleEvict without requests unless an upload is still running.
type Manager struct {
	store     RegistrationStore
	uploader  Uploader
	cache     Cache
	notifier  ChangeNotifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	workers   int
	idleEvict time.Duration

	mu       sync.Mutex
	sessions map[id.UserID]*managed
}

type ManagerOption func(*Manager)

func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithManagerNotifier(n ChangeNotifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func WithWorkers(n int) ManagerOption {
	return func(m *Manager) {
		m.workers = n
	}
}

func WithIdleEvict(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.idleEvict = d
		}
	}
}

func NewManager(store RegistrationStore, uploader Uploader, cache Cache, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		uploader:  uploader,
		cache:     cache,
		logger:    slog.Default(),
		now:       time.Now,
		workers:   1,
		idleEvict: DefaultIdleEvict,
		sessions:  make(map[id.UserID]*managed),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = NewMemoryCache()
	}
	return m
}

// Get returns the hydrated controller of p, creating it on first use.
// Concurrent first calls for the same user share one hydration.
func (m *Manager) Get(ctx context.Context, p Principal) (*Controller, error) {
	m.mu.Lock()
	entry, ok := m.sessions[p.UserID]
	if ok {
		entry.lastUsed = m.now()
		m.mu.Unlock()
		<-entry.ready
		if entry.err != nil {
			return nil, entry.err
		}
		if err := entry.ctrl.Refresh(ctx); err != nil {
			m.logger.WarnContext(ctx, "failed to refresh registration session", "user_id", p.UserID, "error", err)
		}
		return entry.ctrl, nil
	}
	entry = &managed{
		ctrl:     m.newController(p),
		ready:    make(chan struct{}),
		lastUsed: m.now(),
	}
	m.sessions[p.UserID] = entry
	m.setGauge()
	m.mu.Unlock()

	entry.err = m.load(ctx, entry.ctrl)
	close(entry.ready)
	if entry.err != nil {
		m.mu.Lock()
		if m.sessions[p.UserID] == entry {
			delete(m.sessions, p.UserID)
			m.setGauge()
		}
		m.mu.Unlock()
		return nil, entry.err
	}
	return entry.ctrl, nil
}

func (m *Manager) newController(p Principal) *Controller {
	return NewController(p, m.store, m.uploader,
		WithLogger(m.logger),
		WithMetrics(m.metrics),
		WithNotifier(m.notifier),
		WithClock(m.now),
		WithUploadWorkers(m.workers),
		WithSnapshotSink(m.save),
	)
}

func (m *Manager) load(ctx context.Context, ctrl *Controller) error {
	if err := ctrl.Hydrate(ctx); err != nil {
		return err
	}
	userID := ctrl.Principal().UserID
	snap, err := m.cache.Load(ctx, userID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case err != nil:
		m.logger.WarnContext(ctx, "failed to load wizard snapshot", "user_id", userID, "error", err)
		return nil
	}
	if !ctrl.Restore(*snap) {
		_ = m.cache.Delete(ctx, userID)
	}
	return nil
}

// save is the controllers' snapshot sink. A lost snapshot only costs the
// user their local position, so failures are logged and not returned.
func (m *Manager) save(ctx context.Context, snap Snapshot) {
	if err := m.cache.Save(context.WithoutCancel(ctx), snap); err != nil {
		m.logger.WarnContext(ctx, "failed to save wizard snapshot", "user_id", snap.UserID, "error", err)
	}
}

// Forget drops the controller and snapshot of a user, for example after the
// profile was suspended.
func (m *Manager) Forget(ctx context.Context, userID id.UserID) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.setGauge()
	m.mu.Unlock()
	if err := m.cache.Delete(ctx, userID); err != nil {
		m.logger.WarnContext(ctx, "failed to delete wizard snapshot", "user_id", userID, "error", err)
	}
}

// Evict removes controllers idle since before now-IdleEvict that have no
// operation or upload in flight. It returns how many were removed.
func (m *Manager) Evict(now time.Time) int {
	cutoff := now.Add(-m.idleEvict)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for userID, entry := range m.sessions {
		select {
		case <-entry.ready:
		default:
			continue
		}
		if entry.lastUsed.After(cutoff) || (entry.ctrl != nil && entry.ctrl.busy()) {
			continue
		}
		delete(m.sessions, userID)
		evicted++
	}
	if evicted > 0 {
		m.setGauge()
	}
	return evicted
}

// Len returns the number of live controllers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run evicts idle controllers until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(defaultJanitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Evict(m.now()); n > 0 {
				m.logger.Debug("evicted idle registration sessions", "count", n)
			}
		}
	}
}

func (m *Manager) setGauge() {
	if m.metrics != nil {
		m.metrics.ActiveController.Set(float64(len(m.sessions)))
	}
}
