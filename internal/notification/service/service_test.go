package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"mkcompany/internal/notification/models"
	"mkcompany/internal/notification/store"
	profilemodels "mkcompany/internal/profile/models"
	profileservice "mkcompany/internal/profile/service"
	profilestore "mkcompany/internal/profile/store"
	"mkcompany/internal/realtime"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
	audit "mkcompany/pkg/platform/audit"
	"mkcompany/pkg/platform/audit/publisher"
	auditmemory "mkcompany/pkg/platform/audit/store/memory"
	"mkcompany/pkg/requestcontext"
)

type failingAuditor struct{}

func (failingAuditor) Emit(context.Context, audit.AdminAction) error {
	return errors.New("audit store down")
}

type ServiceSuite struct {
	suite.Suite
	store    *store.InMemoryStore
	audit    *auditmemory.InMemoryStore
	profiles *profileservice.Service
	hub      *realtime.Hub
	service  *Service
	ctx      context.Context
	admin    id.UserID
	user     id.UserID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = store.NewInMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.hub = realtime.NewHub()
	auditor := publisher.New(s.audit, publisher.WithLogger(logger))
	s.profiles = profileservice.New(profilestore.NewInMemory(), auditor, profileservice.WithLogger(logger))
	s.service = New(s.store, s.profiles, auditor, WithLogger(logger), WithNotifier(s.hub))

	base := requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.admin = id.UserID(uuid.New())
	s.user = id.UserID(uuid.New())
	_, err := s.profiles.Sync(base, profileservice.Claims{UserID: s.admin, Email: "ops@example.com", Role: id.RoleAdmin})
	s.Require().NoError(err)
	_, err = s.profiles.Sync(base, profileservice.Claims{UserID: s.user, Email: "ada@example.com", Role: id.RoleUser})
	s.Require().NoError(err)
	s.ctx = base
}

func (s *ServiceSuite) as(userID id.UserID) context.Context {
	return requestcontext.WithUserID(s.ctx, userID)
}

func (s *ServiceSuite) draft() models.Draft {
	return models.Draft{UserID: s.user, Title: "  Approved ", Message: "Your LLC was approved.", Type: models.TypeSuccess}
}

func (s *ServiceSuite) TestSend() {
	subCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	events := s.hub.Subscribe(subCtx, realtime.TableNotifications)

	n, err := s.service.Send(s.as(s.admin), s.draft())
	s.Require().NoError(err)
	s.Equal("Approved", n.Title)
	s.Require().NotNil(n.CreatedBy)
	s.Equal(s.admin, *n.CreatedBy)

	actions, err := s.audit.ListRecent(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(actions, 1)
	s.Equal(audit.ActionNotificationSent, actions[0].ActionType)
	s.Equal(n.ID.String(), actions[0].TargetID)

	select {
	case ev := <-events:
		s.Equal(realtime.KindInsert, ev.Kind)
		s.Equal(n.ID.String(), ev.RowID)
	default:
		s.Fail("expected a notifications change event")
	}

	list, err := s.service.ListForUser(s.as(s.user))
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *ServiceSuite) TestSend_RequiresAdminProfile() {
	_, err := s.service.Send(s.as(s.user), s.draft())
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Send(s.ctx, s.draft())
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestSend_SuspendedAdminIsForbidden() {
	_, err := s.profiles.SetStatus(s.ctx, audit.SystemActor, s.admin, profilemodels.StatusSuspended)
	s.Require().NoError(err)

	_, err = s.service.Send(s.as(s.admin), s.draft())
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestSend_Validation() {
	d := s.draft()
	d.Title = "   "
	_, err := s.service.Send(s.as(s.admin), d)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	d = s.draft()
	d.UserID = id.UserID(uuid.New())
	_, err = s.service.Send(s.as(s.admin), d)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestSend_AuditFailure() {
	svc := New(s.store, s.profiles, failingAuditor{})
	_, err := svc.Send(s.as(s.admin), s.draft())
	s.True(dErrors.HasCode(err, dErrors.CodePersistence))
}

func (s *ServiceSuite) TestMarkRead() {
	n, err := s.service.Send(s.as(s.admin), s.draft())
	s.Require().NoError(err)

	err = s.service.MarkRead(s.as(s.admin), n.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "only the recipient can mark it read")

	s.Require().NoError(s.service.MarkRead(s.as(s.user), n.ID))
	list, err := s.service.ListForUser(s.as(s.user))
	s.Require().NoError(err)
	s.True(list[0].Read)
}

func (s *ServiceSuite) TestListForUser_RequiresUser() {
	_, err := s.service.ListForUser(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
