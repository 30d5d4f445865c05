// Package service sends notifications from administrators to users and lets
// users read their own.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"mkcompany/internal/notification/models"
	profilemodels "mkcompany/internal/profile/models"
	"mkcompany/internal/realtime"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
	audit "mkcompany/pkg/platform/audit"
	"mkcompany/pkg/platform/sentinel"
	txcontext "mkcompany/pkg/platform/tx"
	"mkcompany/pkg/requestcontext"
)

const defaultListLimit = 50

type Store interface {
	Insert(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID id.UserID, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID, userID id.UserID) error
}

type Profiles interface {
	Get(ctx context.Context, userID id.UserID) (*profilemodels.Profile, error)
}

type AuditEmitter interface {
	Emit(ctx context.Context, action audit.AdminAction) error
}

type ChangeNotifier interface {
	Publish(ctx context.Context, event realtime.ChangeEvent)
}

type Service struct {
	store    Store
	profiles Profiles
	auditor  AuditEmitter
	notifier ChangeNotifier
	tx       txcontext.Runner
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithNotifier(n ChangeNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithTx(r txcontext.Runner) Option {
	return func(s *Service) { s.tx = r }
}

func New(store Store, profiles Profiles, auditor AuditEmitter, opts ...Option) *Service {
	s := &Service{
		store:    store,
		profiles: profiles,
		auditor:  auditor,
		tx:       txcontext.NoopRunner{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers d to its recipient. The caller must be an active admin
// according to the stored profile.
func (s *Service) Send(ctx context.Context, d models.Draft) (*models.Notification, error) {
	actor := requestcontext.UserID(ctx)
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	sender, err := s.profiles.Get(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := sender.CanAdminister(); err != nil {
		return nil, err
	}

	d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.profiles.Get(ctx, d.UserID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "recipient not found")
		}
		return nil, err
	}

	n := &models.Notification{
		ID:        id.NotificationID(uuid.New()),
		UserID:    d.UserID,
		Title:     d.Title,
		Message:   d.Message,
		Type:      d.Type,
		CreatedBy: &actor,
		CreatedAt: requestcontext.Now(ctx).UTC(),
	}
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.Insert(txCtx, n); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to send notification")
		}
		recipient := d.UserID
		if err := s.auditor.Emit(txCtx, audit.AdminAction{
			AdminID:      actor,
			TargetUserID: &recipient,
			ActionType:   audit.ActionNotificationSent,
			TargetType:   audit.TargetNotification,
			TargetID:     n.ID.String(),
			Description:  n.Title,
			Metadata:     map[string]string{"type": string(n.Type)},
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to record admin action")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "notification sent",
		"notification_id", n.ID,
		"user_id", n.UserID,
		"admin_id", actor,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.publish(ctx, realtime.KindInsert, n.ID)
	return n, nil
}

// ListForUser returns the caller's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context) ([]models.Notification, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	list, err := s.store.ListForUser(ctx, userID, defaultListLimit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load notifications")
	}
	return list, nil
}

// MarkRead marks one of the caller's notifications read.
func (s *Service) MarkRead(ctx context.Context, notificationID id.NotificationID) error {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := s.store.MarkRead(ctx, notificationID, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to update notification")
	}
	s.publish(ctx, realtime.KindUpdate, notificationID)
	return nil
}

func (s *Service) publish(ctx context.Context, kind realtime.Kind, notificationID id.NotificationID) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, realtime.ChangeEvent{
		Table: realtime.TableNotifications,
		Kind:  kind,
		RowID: notificationID.String(),
		At:    requestcontext.Now(ctx).UTC(),
	})
}
