// Package service implements the admin back-office: listing registrations,
// moving them through the moderation state machine, reviewing documents and
// suspending accounts. Every mutation is recorded in the admin-action log.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	notificationmodels "mkcompany/internal/notification/models"
	profilemodels "mkcompany/internal/profile/models"
	"mkcompany/internal/realtime"
	"mkcompany/internal/registration/models"
	reviewmetrics "mkcompany/internal/review/metrics"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
	audit "mkcompany/pkg/platform/audit"
	"mkcompany/pkg/platform/sentinel"
	txcontext "mkcompany/pkg/platform/tx"
	"mkcompany/pkg/requestcontext"
)

var tracer = otel.Tracer("mkcompany/internal/review/service")

const maxNotesLength = 2000

type RegistrationStore interface {
	ListAll(ctx context.Context) ([]models.RegistrationView, error)
	FindByID(ctx context.Context, registrationID id.RegistrationID) (*models.Registration, error)
	UpdateStatus(ctx context.Context, registrationID id.RegistrationID, from, to models.Status, now time.Time) error
	FindDocument(ctx context.Context, documentID id.DocumentID) (*models.Document, error)
	UpdateDocumentReview(ctx context.Context, doc *models.Document) error
	Stats(ctx context.Context, now time.Time) (*models.Stats, error)
	ListAllDocuments(ctx context.Context) ([]models.DocumentView, error)
	ListPayments(ctx context.Context) ([]models.PaymentView, error)
}

type Profiles interface {
	Get(ctx context.Context, userID id.UserID) (*profilemodels.Profile, error)
	List(ctx context.Context) ([]profilemodels.Profile, error)
	SetStatus(ctx context.Context, actor, userID id.UserID, status profilemodels.Status) (*profilemodels.Profile, error)
}

type AuditEmitter interface {
	Emit(ctx context.Context, action audit.AdminAction) error
}

type AuditReader interface {
	List(ctx context.Context, limit int) ([]audit.AdminAction, error)
}

type ChangeNotifier interface {
	Publish(ctx context.Context, event realtime.ChangeEvent)
}

// NotificationLog lists the notifications sent to every user.
type NotificationLog interface {
	ListAll(ctx context.Context, limit int) ([]notificationmodels.Notification, error)
}

// Dashboard is the landing view of the back-office.
type Dashboard struct {
	Registrations []models.RegistrationView `json:"registrations"`
	Stats         *models.Stats             `json:"stats"`
}

type Service struct {
	registrations RegistrationStore
	profiles      Profiles
	auditor       AuditEmitter
	auditLog      AuditReader
	notifications NotificationLog
	notifier      ChangeNotifier
	tx            txcontext.Runner
	logger        *slog.Logger
	metrics       *reviewmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *reviewmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n ChangeNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAuditLog(r AuditReader) Option {
	return func(s *Service) { s.auditLog = r }
}

func WithNotificationLog(n NotificationLog) Option {
	return func(s *Service) { s.notifications = n }
}

// WithTx runs each mutation and its audit entry in one transaction.
func WithTx(r txcontext.Runner) Option {
	return func(s *Service) { s.tx = r }
}

func New(registrations RegistrationStore, profiles Profiles, auditor AuditEmitter, opts ...Option) *Service {
	s := &Service{
		registrations: registrations,
		profiles:      profiles,
		auditor:       auditor,
		tx:            txcontext.NoopRunner{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// authorize loads the acting profile from the store. The role in the request
// context has already passed the route guard, but only the stored profile
// decides.
func (s *Service) authorize(ctx context.Context, operation string) (id.UserID, error) {
	actor := requestcontext.UserID(ctx)
	if actor.IsNil() {
		return id.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	p, err := s.profiles.Get(ctx, actor)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.denied(ctx, operation, actor, "no profile")
			return id.UserID{}, dErrors.New(dErrors.CodeForbidden, "admin role required")
		}
		return id.UserID{}, err
	}
	if err := p.CanAdminister(); err != nil {
		s.denied(ctx, operation, actor, err.Error())
		return id.UserID{}, err
	}
	return actor, nil
}

func (s *Service) denied(ctx context.Context, operation string, actor id.UserID, reason string) {
	if s.metrics != nil {
		s.metrics.IncDenied(operation)
	}
	s.logger.WarnContext(ctx, "back-office operation denied",
		"operation", operation,
		"user_id", actor,
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
}

// ListRegistrations returns every registration with its documents,
// jurisdiction and owner, newest first.
func (s *Service) ListRegistrations(ctx context.Context) ([]models.RegistrationView, error) {
	ctx, span := tracer.Start(ctx, "review.ListRegistrations")
	defer span.End()
	if _, err := s.authorize(ctx, "list"); err != nil {
		recordError(span, err)
		return nil, err
	}
	list, err := s.registrations.ListAll(ctx)
	if err != nil {
		recordError(span, err)
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load registrations")
	}
	span.SetAttributes(attribute.Int("registrations.count", len(list)))
	return list, nil
}

// FilterByStatus keeps the registrations in status. An empty status keeps all.
func FilterByStatus(list []models.RegistrationView, status models.Status) []models.RegistrationView {
	if status == "" {
		return list
	}
	out := make([]models.RegistrationView, 0, len(list))
	for _, v := range list {
		if v.Registration != nil && v.Status == status {
			out = append(out, v)
		}
	}
	return out
}

func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	if _, err := s.authorize(ctx, "stats"); err != nil {
		return nil, err
	}
	return s.stats(ctx)
}

func (s *Service) stats(ctx context.Context) (*models.Stats, error) {
	st, err := s.registrations.Stats(ctx, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to compute statistics")
	}
	return st, nil
}

// Dashboard loads the registration list and the statistics concurrently.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	ctx, span := tracer.Start(ctx, "review.Dashboard")
	defer span.End()
	if _, err := s.authorize(ctx, "dashboard"); err != nil {
		recordError(span, err)
		return nil, err
	}

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.registrations.ListAll(gctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to load registrations")
		}
		d.Registrations = list
		return nil
	})
	g.Go(func() error {
		st, err := s.stats(gctx)
		if err != nil {
			return err
		}
		d.Stats = st
		return nil
	})
	if err := g.Wait(); err != nil {
		recordError(span, err)
		return nil, err
	}
	return &d, nil
}

// SetStatus moves a registration to status if the moderation state machine
// allows it. The update is compare-and-set on the status that was read, so a
// concurrent change by another administrator is reported as a conflict.
func (s *Service) SetStatus(ctx context.Context, registrationID id.RegistrationID, status models.Status) (*models.Registration, error) {
	ctx, span := tracer.Start(ctx, "review.SetStatus", trace.WithAttributes(
		attribute.String("registration.id", registrationID.String()),
		attribute.String("registration.status", string(status)),
	))
	defer span.End()

	actor, err := s.authorize(ctx, "set_status")
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown registration status")
	}

	reg, err := s.registrations.FindByID(ctx, registrationID)
	if err != nil {
		recordError(span, err)
		return nil, wrapStoreErr(err, "registration", "failed to load registration")
	}
	from := reg.Status
	if !from.CanTransitionTo(status) {
		s.conflict()
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("cannot move a registration from %s to %s", from, status))
	}

	now := requestcontext.Now(ctx).UTC()
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.registrations.UpdateStatus(txCtx, registrationID, from, status, now); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrInvalidState):
				s.conflict()
				return dErrors.New(dErrors.CodeConflict, "registration was changed by someone else, reload and try again")
			case errors.Is(err, sentinel.ErrConflict):
				s.conflict()
				return dErrors.New(dErrors.CodeConflict, "the owner already has another open registration")
			default:
				return wrapStoreErr(err, "registration", "failed to update registration")
			}
		}
		owner := reg.UserID
		return s.emit(txCtx, audit.AdminAction{
			AdminID:      actor,
			TargetUserID: &owner,
			ActionType:   audit.ActionRegistrationStatusChanged,
			TargetType:   audit.TargetRegistration,
			TargetID:     registrationID.String(),
			Description:  fmt.Sprintf("status %s -> %s", from, status),
			Metadata:     map[string]string{"from": string(from), "to": string(status)},
		})
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	reg.Status = status
	reg.UpdatedAt = now
	if s.metrics != nil {
		s.metrics.IncStatusChange(string(status))
	}
	s.logger.InfoContext(ctx, "registration status changed",
		"registration_id", registrationID,
		"from", from,
		"to", status,
		"admin_id", actor,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.publish(ctx, realtime.TableRegistrations, registrationID.String())
	return reg, nil
}

// SetDocumentStatus records a reviewer decision on a document. Only approved
// and rejected may be set; the reviewer and time are stamped on the document.
func (s *Service) SetDocumentStatus(ctx context.Context, documentID id.DocumentID, status models.DocumentStatus, notes string) (*models.Document, error) {
	ctx, span := tracer.Start(ctx, "review.SetDocumentStatus", trace.WithAttributes(
		attribute.String("document.id", documentID.String()),
		attribute.String("document.status", string(status)),
	))
	defer span.End()

	actor, err := s.authorize(ctx, "set_document_status")
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if !status.IsReviewOutcome() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document status must be approved or rejected")
	}
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return nil, dErrors.WithFields(dErrors.CodeValidation, "notes are too long",
			map[string]string{"admin_notes": fmt.Sprintf("at most %d characters", maxNotesLength)})
	}

	doc, err := s.registrations.FindDocument(ctx, documentID)
	if err != nil {
		recordError(span, err)
		return nil, wrapStoreErr(err, "document", "failed to load document")
	}
	previous := doc.Status
	doc.ApplyReview(status, actor, notes, requestcontext.Now(ctx).UTC())

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.registrations.UpdateDocumentReview(txCtx, doc); err != nil {
			return wrapStoreErr(err, "document", "failed to save review")
		}
		owner := doc.UserID
		metadata := map[string]string{
			"from":            string(previous),
			"to":              string(status),
			"registration_id": doc.RegistrationID.String(),
		}
		if notes != "" {
			metadata["notes"] = notes
		}
		return s.emit(txCtx, audit.AdminAction{
			AdminID:      actor,
			TargetUserID: &owner,
			ActionType:   audit.ActionDocumentReviewed,
			TargetType:   audit.TargetDocument,
			TargetID:     documentID.String(),
			Description:  fmt.Sprintf("%s %s", doc.DocumentType, status),
			Metadata:     metadata,
		})
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncDocumentReview(string(status))
	}
	s.publish(ctx, realtime.TableDocuments, documentID.String())
	return doc, nil
}

// SetUserStatus suspends or reactivates an account.
func (s *Service) SetUserStatus(ctx context.Context, userID id.UserID, status profilemodels.Status) (*profilemodels.Profile, error) {
	actor, err := s.authorize(ctx, "set_user_status")
	if err != nil {
		return nil, err
	}
	return s.profiles.SetStatus(ctx, actor, userID, status)
}

// AuditLog returns the most recent admin actions.
func (s *Service) AuditLog(ctx context.Context, limit int) ([]audit.AdminAction, error) {
	if _, err := s.authorize(ctx, "audit_log"); err != nil {
		return nil, err
	}
	if s.auditLog == nil {
		return []audit.AdminAction{}, nil
	}
	list, err := s.auditLog.List(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load the admin-action log")
	}
	return list, nil
}

func (s *Service) emit(ctx context.Context, action audit.AdminAction) error {
	if err := s.auditor.Emit(ctx, action); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to record admin action")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, table, rowID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, realtime.ChangeEvent{
		Table: table,
		Kind:  realtime.KindUpdate,
		RowID: rowID,
		At:    requestcontext.Now(ctx).UTC(),
	})
}

func (s *Service) conflict() {
	if s.metrics != nil {
		s.metrics.IncConflict()
	}
}

func wrapStoreErr(err error, what, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodePersistence, msg)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
