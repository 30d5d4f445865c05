// Package publisher writes admin actions with fail-closed semantics: the
// entry is stored synchronously and the calling mutation must fail if it
// cannot be. Stored entries are then handed to an optional forwarder.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	id "mkcompany/pkg/domain"
	audit "mkcompany/pkg/platform/audit"
	"mkcompany/pkg/requestcontext"
)

// Forwarder receives stored actions for delivery elsewhere. Enqueue must not block.
type Forwarder interface {
	Enqueue(action audit.AdminAction)
}

type Publisher struct {
	store     audit.Store
	forwarder Forwarder
	onStored  func(ctx context.Context, action audit.AdminAction)
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithForwarder hands every stored action to f, for example the Kafka worker.
func WithForwarder(f Forwarder) Option {
	return func(p *Publisher) {
		p.forwarder = f
	}
}

// WithOnStored registers a callback run after each action is stored, for
// example to announce the new row to admin views.
func WithOnStored(fn func(ctx context.Context, action audit.AdminAction)) Option {
	return func(p *Publisher) {
		p.onStored = fn
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit stores action and returns an error if it could not be persisted.
// Missing id, timestamp and request id are filled from ctx, and the client
// address and user agent are recorded in the metadata.
func (p *Publisher) Emit(ctx context.Context, action audit.AdminAction) error {
	start := time.Now()
	if err := action.Validate(); err != nil {
		return fmt.Errorf("invalid admin action: %w", err)
	}

	if action.ID.IsNil() {
		action.ID = id.AdminActionID(uuid.New())
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = requestcontext.Now(ctx).UTC()
	}
	if action.RequestID == "" {
		action.RequestID = requestcontext.RequestID(ctx)
	}
	action.Metadata = enrich(ctx, action.Metadata)

	if err := p.store.Append(ctx, action); err != nil {
		if p.metrics != nil {
			p.metrics.IncPersistFailures()
		}
		p.logger.ErrorContext(ctx, "admin action could not be recorded",
			"action_type", action.ActionType,
			"admin_id", action.AdminID,
			"target_id", action.TargetID,
			"request_id", action.RequestID,
			"error", err,
		)
		return fmt.Errorf("record admin action: %w", err)
	}

	if p.metrics != nil {
		p.metrics.ObservePersistDuration(time.Since(start))
		p.metrics.IncEmitted(string(action.ActionType))
	}
	if p.forwarder != nil {
		p.forwarder.Enqueue(action)
	}
	if p.onStored != nil {
		p.onStored(ctx, action)
	}
	return nil
}

// List returns the most recent actions, newest first.
func (p *Publisher) List(ctx context.Context, limit int) ([]audit.AdminAction, error) {
	return p.store.ListRecent(ctx, limit)
}

func enrich(ctx context.Context, metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata)+4)
	maps.Copy(out, metadata)
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		out["client_ip"] = ip
	}
	raw := requestcontext.UserAgent(ctx)
	if raw == "" {
		return out
	}
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	if browser != "" {
		out["browser"] = browser
		if version != "" {
			out["browser"] += " " + version
		}
	}
	if os := ua.OS(); os != "" {
		out["os"] = os
	}
	switch {
	case ua.Bot():
		out["device"] = "bot"
	case ua.Mobile():
		out["device"] = "mobile"
	default:
		out["device"] = "desktop"
	}
	return out
}
