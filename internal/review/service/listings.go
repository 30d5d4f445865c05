package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	notificationmodels "mkcompany/internal/notification/models"
	profilemodels "mkcompany/internal/profile/models"
	"mkcompany/internal/registration/models"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
)

const defaultNotificationLimit = 500

// Client is a user profile with the registrations it owns, newest first.
type Client struct {
	profilemodels.Profile
	Registrations []*models.Registration `json:"registrations"`
}

// NotificationView is a sent notification with its recipient.
type NotificationView struct {
	notificationmodels.Notification
	Recipient *models.Owner `json:"recipient,omitempty"`
}

// ListClients returns every profile, newest first, each with its registrations.
func (s *Service) ListClients(ctx context.Context) ([]Client, error) {
	ctx, span := tracer.Start(ctx, "review.ListClients")
	defer span.End()
	if _, err := s.authorize(ctx, "list_clients"); err != nil {
		recordError(span, err)
		return nil, err
	}

	var (
		profiles      []profilemodels.Profile
		registrations []models.RegistrationView
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.profiles.List(gctx)
		if err != nil {
			return wrapStoreErr(err, "profile", "failed to load clients")
		}
		profiles = list
		return nil
	})
	g.Go(func() error {
		list, err := s.registrations.ListAll(gctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to load registrations")
		}
		registrations = list
		return nil
	})
	if err := g.Wait(); err != nil {
		recordError(span, err)
		return nil, err
	}

	byOwner := make(map[id.UserID][]*models.Registration, len(profiles))
	for _, v := range registrations {
		if v.Registration != nil {
			byOwner[v.UserID] = append(byOwner[v.UserID], v.Registration)
		}
	}
	clients := make([]Client, 0, len(profiles))
	for _, p := range profiles {
		regs := byOwner[p.ID]
		if regs == nil {
			regs = []*models.Registration{}
		}
		clients = append(clients, Client{Profile: p, Registrations: regs})
	}
	span.SetAttributes(attribute.Int("clients.count", len(clients)))
	return clients, nil
}

// ListDocuments returns every uploaded document with its owner, newest upload first.
func (s *Service) ListDocuments(ctx context.Context) ([]models.DocumentView, error) {
	if _, err := s.authorize(ctx, "list_documents"); err != nil {
		return nil, err
	}
	docs, err := s.registrations.ListAllDocuments(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load documents")
	}
	return docs, nil
}

// ListPayments returns every payment with its owner, newest first.
func (s *Service) ListPayments(ctx context.Context) ([]models.PaymentView, error) {
	if _, err := s.authorize(ctx, "list_payments"); err != nil {
		return nil, err
	}
	payments, err := s.registrations.ListPayments(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load payments")
	}
	return payments, nil
}

// ListNotifications returns the notifications sent to all users, newest
// first, each with its recipient.
func (s *Service) ListNotifications(ctx context.Context) ([]NotificationView, error) {
	ctx, span := tracer.Start(ctx, "review.ListNotifications")
	defer span.End()
	if _, err := s.authorize(ctx, "list_notifications"); err != nil {
		recordError(span, err)
		return nil, err
	}
	if s.notifications == nil {
		return []NotificationView{}, nil
	}

	var (
		sent     []notificationmodels.Notification
		profiles []profilemodels.Profile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.notifications.ListAll(gctx, defaultNotificationLimit)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to load notifications")
		}
		sent = list
		return nil
	})
	g.Go(func() error {
		list, err := s.profiles.List(gctx)
		if err != nil {
			return wrapStoreErr(err, "profile", "failed to load recipients")
		}
		profiles = list
		return nil
	})
	if err := g.Wait(); err != nil {
		recordError(span, err)
		return nil, err
	}

	recipients := make(map[id.UserID]*models.Owner, len(profiles))
	for _, p := range profiles {
		recipients[p.ID] = &models.Owner{
			ID:       p.ID,
			Email:    p.Email,
			FullName: p.FullName,
			Status:   string(p.Status),
		}
	}
	out := make([]NotificationView, 0, len(sent))
	for _, n := range sent {
		out = append(out, NotificationView{Notification: n, Recipient: recipients[n.UserID]})
	}
	span.SetAttributes(attribute.Int("notifications.count", len(out)))
	return out, nil
}
