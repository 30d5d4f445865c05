package service

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	notificationmodels "mkcompany/internal/notification/models"
	profilemodels "mkcompany/internal/profile/models"
	"mkcompany/internal/registration/models"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
)

func (s *ServiceSuite) TestListClients_GroupsRegistrationsByOwner() {
	ada := profilemodels.Profile{ID: id.UserID(uuid.New()), Email: "ada@example.com", Status: profilemodels.StatusActive}
	grace := profilemodels.Profile{ID: id.UserID(uuid.New()), Email: "grace@example.com", Status: profilemodels.StatusActive}
	rejected := s.registration(models.StatusRejected)
	rejected.UserID = ada.ID
	open := s.registration(models.StatusPendingReview)
	open.UserID = ada.ID

	s.expectActor(id.RoleAdmin, profilemodels.StatusActive)
	s.profiles.EXPECT().List(gomock.Any()).Return([]profilemodels.Profile{grace, ada}, nil)
	s.store.EXPECT().ListAll(gomock.Any()).Return([]models.RegistrationView{
		{Registration: open},
		{Registration: rejected},
	}, nil)

	clients, err := s.service.ListClients(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(clients, 2)
	s.Equal(grace.ID, clients[0].ID, "profile order is kept")
	s.NotNil(clients[0].Registrations)
	s.Empty(clients[0].Registrations)
	s.Require().Len(clients[1].Registrations, 2)
	s.Equal(open.ID, clients[1].Registrations[0].ID)
	s.Equal(rejected.ID, clients[1].Registrations[1].ID)
}

func (s *ServiceSuite) TestListClients_StoreFailure() {
	s.expectActor(id.RoleAdmin, profilemodels.StatusActive)
	s.profiles.EXPECT().List(gomock.Any()).Return(nil, errors.New("connection reset"))
	s.store.EXPECT().ListAll(gomock.Any()).Return(nil, nil).AnyTimes()

	_, err := s.service.ListClients(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodePersistence))
}

func (s *ServiceSuite) TestListDocuments() {
	owner := &models.Owner{ID: id.UserID(uuid.New()), Email: "ada@example.com", FullName: "Ada Lovelace"}
	s.expectActor(id.RoleAdmin, profilemodels.StatusActive)
	s.store.EXPECT().ListAllDocuments(gomock.Any()).Return([]models.DocumentView{{
		Document: models.Document{ID: id.DocumentID(uuid.New()), UserID: owner.ID, DocumentType: models.DocumentTypePassport},
		Owner:    owner,
	}}, nil)

	docs, err := s.service.ListDocuments(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal("Ada Lovelace", docs[0].Owner.FullName)
}

func (s *ServiceSuite) TestListPayments() {
	s.expectActor(id.RoleAdmin, profilemodels.StatusActive)
	s.store.EXPECT().ListPayments(gomock.Any()).Return(nil, errors.New("connection reset"))

	_, err := s.service.ListPayments(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodePersistence))
}

func (s *ServiceSuite) TestListNotifications_AttachesRecipient() {
	known := profilemodels.Profile{ID: id.UserID(uuid.New()), Email: "ada@example.com", FullName: "Ada Lovelace", Status: profilemodels.StatusActive}
	s.expectActor(id.RoleAdmin, profilemodels.StatusActive)
	s.sent.EXPECT().ListAll(gomock.Any(), defaultNotificationLimit).Return([]notificationmodels.Notification{
		{ID: id.NotificationID(uuid.New()), UserID: known.ID, Title: "Approved"},
		{ID: id.NotificationID(uuid.New()), UserID: id.UserID(uuid.New()), Title: "Orphan"},
	}, nil)
	s.profiles.EXPECT().List(gomock.Any()).Return([]profilemodels.Profile{known}, nil)

	list, err := s.service.ListNotifications(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Require().NotNil(list[0].Recipient)
	s.Equal("ada@example.com", list[0].Recipient.Email)
	s.Equal("active", list[0].Recipient.Status)
	s.Nil(list[1].Recipient)
}

func (s *ServiceSuite) TestListings_RequireAdministrator() {
	s.Run("moderator cannot list documents", func() {
		s.expectActor(id.RoleModerator, profilemodels.StatusActive)
		_, err := s.service.ListDocuments(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("suspended admin cannot list payments", func() {
		s.expectActor(id.RoleAdmin, profilemodels.StatusSuspended)
		_, err := s.service.ListPayments(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("moderator cannot list clients", func() {
		s.expectActor(id.RoleModerator, profilemodels.StatusActive)
		_, err := s.service.ListClients(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("moderator cannot list notifications", func() {
		s.expectActor(id.RoleModerator, profilemodels.StatusActive)
		_, err := s.service.ListNotifications(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}
