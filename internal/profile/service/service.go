// Package service keeps user profiles in step with the identity provider and
// applies role and status changes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mkcompany/internal/profile/models"
	"mkcompany/internal/realtime"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
	audit "mkcompany/pkg/platform/audit"
	"mkcompany/pkg/platform/sentinel"
	txcontext "mkcompany/pkg/platform/tx"
	"mkcompany/pkg/requestcontext"
)

type Store interface {
	FindByID(ctx context.Context, userID id.UserID) (*models.Profile, error)
	List(ctx context.Context) ([]models.Profile, error)
	Create(ctx context.Context, p *models.Profile) error
	Execute(ctx context.Context, userID id.UserID, validate func(*models.Profile) error, mutate func(*models.Profile)) (*models.Profile, error)
}

type AuditEmitter interface {
	Emit(ctx context.Context, action audit.AdminAction) error
}

type ChangeNotifier interface {
	Publish(ctx context.Context, event realtime.ChangeEvent)
}

// Claims is the identity asserted by a validated bearer token.
type Claims struct {
	UserID id.UserID
	Email  string
	Role   id.Role
}

type Service struct {
	store    Store
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

// WithTx makes each change and its audit entry a single transaction.
func WithTx(r txcontext.Runner) Option {
	return func(s *Service) { s.tx = r }
}

func New(store Store, auditor AuditEmitter, opts ...Option) *Service {
	s := &Service{
		store:   store,
		auditor: auditor,
		tx:      txcontext.NoopRunner{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync returns the stored profile of the token subject, creating it on first
// sight. The claimed role is only used at creation; afterwards the stored
// role and status win.
func (s *Service) Sync(ctx context.Context, c Claims) (*models.Profile, error) {
	if c.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	p, err := s.store.FindByID(ctx, c.UserID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load profile")
	}

	p = models.NewProfile(c.UserID, c.Email, c.Role, requestcontext.Now(ctx).UTC())
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// created by a concurrent request
			return s.Get(ctx, c.UserID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to create profile")
	}
	s.logger.InfoContext(ctx, "profile created",
		"user_id", c.UserID,
		"role", p.Role,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.publish(ctx, realtime.KindInsert, c.UserID)
	return p, nil
}

func (s *Service) Get(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	p, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load profile")
	}
	return p, nil
}

// List returns every profile, newest first. Callers authorize.
func (s *Service) List(ctx context.Context) ([]models.Profile, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list profiles")
	}
	return list, nil
}

// UpdateOwn applies a user's change to their own name or email. Role and
// status are out of reach here.
func (s *Service) UpdateOwn(ctx context.Context, userID id.UserID, u models.Update) (*models.Profile, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	u.Normalize()
	if err := u.Validate(); err != nil {
		return nil, err
	}
	changed := false
	p, err := s.store.Execute(ctx, userID,
		func(*models.Profile) error { return nil },
		func(p *models.Profile) {
			changed = p.ApplyUpdate(u, requestcontext.Now(ctx).UTC())
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to update profile")
	}
	if changed {
		s.logger.InfoContext(ctx, "profile updated",
			"user_id", userID,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.publish(ctx, realtime.KindUpdate, userID)
	}
	return p, nil
}

// SetRole changes the role of userID on behalf of actor. Setting the current
// role again is a no-op that is neither written nor audited.
func (s *Service) SetRole(ctx context.Context, actor, userID id.UserID, role id.Role) (*models.Profile, error) {
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	var (
		updated  *models.Profile
		previous id.Role
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.store.Execute(txCtx, userID,
			func(p *models.Profile) error {
				previous = p.Role
				return nil
			},
			func(p *models.Profile) {
				if p.Role != role {
					p.ApplyRole(role, requestcontext.Now(txCtx).UTC())
				}
			},
		)
		if err != nil {
			return wrapStoreErr(err, "failed to update role")
		}
		updated = p
		if previous == role {
			return nil
		}
		return s.emit(txCtx, audit.AdminAction{
			AdminID:      actor,
			TargetUserID: &userID,
			ActionType:   audit.ActionUserRoleChanged,
			TargetType:   audit.TargetProfile,
			TargetID:     userID.String(),
			Description:  fmt.Sprintf("role %s -> %s", previous, role),
			Metadata:     map[string]string{"from": string(previous), "to": string(role)},
		})
	})
	if err != nil {
		return nil, err
	}
	if previous != role {
		s.publish(ctx, realtime.KindUpdate, userID)
	}
	return updated, nil
}

// SetStatus suspends or reactivates userID. An administrator cannot change
// their own status.
func (s *Service) SetStatus(ctx context.Context, actor, userID id.UserID, status models.Status) (*models.Profile, error) {
	if actor == userID {
		return nil, dErrors.New(dErrors.CodeForbidden, "you cannot change your own account status")
	}
	var updated *models.Profile
	var previous models.Status
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.store.Execute(txCtx, userID,
			func(p *models.Profile) error {
				if p.Status == status {
					return dErrors.New(dErrors.CodeConflict, "account is already "+string(status))
				}
				previous = p.Status
				return nil
			},
			func(p *models.Profile) {
				p.ApplyStatus(status, requestcontext.Now(txCtx).UTC())
			},
		)
		if err != nil {
			return wrapStoreErr(err, "failed to update account status")
		}
		updated = p
		return s.emit(txCtx, audit.AdminAction{
			AdminID:      actor,
			TargetUserID: &userID,
			ActionType:   audit.ActionUserStatusChanged,
			TargetType:   audit.TargetProfile,
			TargetID:     userID.String(),
			Description:  fmt.Sprintf("status %s -> %s", previous, status),
			Metadata:     map[string]string{"from": string(previous), "to": string(status)},
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.KindUpdate, userID)
	return updated, nil
}

func (s *Service) emit(ctx context.Context, action audit.AdminAction) error {
	if err := s.auditor.Emit(ctx, action); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to record admin action")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, kind realtime.Kind, userID id.UserID) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, realtime.ChangeEvent{
		Table: realtime.TableProfiles,
		Kind:  kind,
		RowID: userID.String(),
		At:    requestcontext.Now(ctx).UTC(),
	})
}

func wrapStoreErr(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "profile not found")
	default:
		return dErrors.Wrap(err, dErrors.CodePersistence, msg)
	}
}
