package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	notificationmodels "mkcompany/internal/notification/models"
	notificationstore "mkcompany/internal/notification/store"
	profilemodels "mkcompany/internal/profile/models"
	profileservice "mkcompany/internal/profile/service"
	profilestore "mkcompany/internal/profile/store"
	"mkcompany/internal/registration/models"
	regstore "mkcompany/internal/registration/store"
	"mkcompany/internal/review/service"
	id "mkcompany/pkg/domain"
	audit "mkcompany/pkg/platform/audit"
	"mkcompany/pkg/platform/audit/publisher"
	auditmemory "mkcompany/pkg/platform/audit/store/memory"
	"mkcompany/pkg/requestcontext"
)

type HandlerSuite struct {
	suite.Suite
	registrations *regstore.InMemoryStore
	notifications *notificationstore.InMemoryStore
	profiles      *profileservice.Service
	audit         *auditmemory.InMemoryStore
	router        chi.Router
	adminID       id.UserID
	ctx           context.Context
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ctx = context.Background()
	profiles := profilestore.NewInMemory()
	s.registrations = regstore.NewInMemory(regstore.WithOwnerLookup(
		func(ctx context.Context, userID id.UserID) (*models.Owner, bool) {
			p, err := profiles.FindByID(ctx, userID)
			if err != nil {
				return nil, false
			}
			return &models.Owner{ID: p.ID, Email: p.Email, FullName: p.FullName, Status: string(p.Status)}, true
		}))
	s.notifications = notificationstore.NewInMemory()
	s.audit = auditmemory.NewInMemoryStore()
	auditor := publisher.New(s.audit, publisher.WithLogger(logger))
	s.profiles = profileservice.New(profiles, auditor, profileservice.WithLogger(logger))

	s.adminID = id.UserID(uuid.New())
	_, err := s.profiles.Sync(s.ctx, profileservice.Claims{UserID: s.adminID, Email: "admin@example.com", Role: id.RoleAdmin})
	s.Require().NoError(err)

	svc := service.New(s.registrations, s.profiles, auditor,
		service.WithLogger(logger),
		service.WithAuditLog(auditor),
		service.WithNotificationLog(s.notifications),
	)
	r := chi.NewRouter()
	New(svc, logger).Register(r)
	s.router = r
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	ctx := requestcontext.WithPrincipal(req.Context(), s.adminID, "admin@example.com", id.RoleAdmin)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

// submitted creates a registration that its owner has finalized, with one
// pending passport.
func (s *HandlerSuite) submitted() (*models.Registration, *models.Document) {
	userID := id.UserID(uuid.New())
	_, err := s.profiles.Sync(s.ctx, profileservice.Claims{UserID: userID, Email: "ada@example.com"})
	s.Require().NoError(err)

	now := time.Now().UTC()
	reg := models.NewDraft(userID, "ada@example.com")
	reg.ID = id.RegistrationID(uuid.New())
	reg.CreatedAt = now
	reg.UpdatedAt = now
	reg.Status = models.StatusPendingDocuments
	s.Require().NoError(s.registrations.SaveDraft(s.ctx, reg))

	doc := &models.Document{
		ID:               id.DocumentID(uuid.New()),
		RegistrationID:   reg.ID,
		UserID:           userID,
		DocumentType:     models.DocumentTypePassport,
		OriginalFilename: "passport.png",
		StoragePath:      userID.String() + "/" + reg.ID.String() + "/passport.png",
		FileSize:         2048,
		MimeType:         "image/png",
		Status:           models.DocumentStatusPending,
		UploadedAt:       now,
	}
	s.Require().NoError(s.registrations.InsertDocument(s.ctx, doc))

	reg, err = s.registrations.Finalize(s.ctx, reg.ID, userID, now)
	s.Require().NoError(err)
	return reg, doc
}

func (s *HandlerSuite) TestListAndFilter() {
	reg, _ := s.submitted()

	rec := s.do(http.MethodGet, "/admin/registrations?status=pending_review", "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Registrations []struct {
			ID        string            `json:"id"`
			Status    string            `json:"status"`
			Documents []models.Document `json:"documents"`
		} `json:"registrations"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Require().Len(body.Registrations, 1)
	s.Equal(reg.ID.String(), body.Registrations[0].ID)
	s.Len(body.Registrations[0].Documents, 1)

	rec = s.do(http.MethodGet, "/admin/registrations?status=approved", "")
	s.Contains(rec.Body.String(), `"registrations":[]`)

	rec = s.do(http.MethodGet, "/admin/registrations?status=archived", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestApproveThenTerminal() {
	reg, _ := s.submitted()
	path := "/admin/registrations/" + reg.ID.String() + "/status"

	rec := s.do(http.MethodPatch, path, `{"status":"approved"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Contains(rec.Body.String(), `"status":"approved"`)

	rec = s.do(http.MethodPatch, path, `{"status":"rejected"}`)
	s.Equal(http.StatusConflict, rec.Code)

	stored, err := s.registrations.FindByID(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, stored.Status, "illegal transition leaves status unchanged")

	actions, _ := s.audit.ListRecent(s.ctx, 0)
	s.Len(actions, 1, "only the successful change is audited")
}

func (s *HandlerSuite) TestDocumentReview() {
	_, doc := s.submitted()
	path := "/admin/documents/" + doc.ID.String() + "/status"

	rec := s.do(http.MethodPatch, path, `{"status":"pending"}`)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPatch, path, `{"status":"rejected","admin_notes":"blurry photo"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	stored, err := s.registrations.FindDocument(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.Equal(models.DocumentStatusRejected, stored.Status)
	s.Equal("blurry photo", stored.AdminNotes)
	s.Require().NotNil(stored.ReviewedBy)
	s.Equal(s.adminID, *stored.ReviewedBy)

	actions, _ := s.audit.ListRecent(s.ctx, 0)
	s.Require().Len(actions, 1)
	s.Equal(audit.ActionDocumentReviewed, actions[0].ActionType)
}

func (s *HandlerSuite) TestDashboardAndStats() {
	s.submitted()

	rec := s.do(http.MethodGet, "/admin/stats", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var st models.Stats
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&st))
	s.Equal(1, st.TotalRegistrations)
	s.Equal(1, st.PendingReview)
	s.Equal(1, st.PendingDocumentReviews)

	rec = s.do(http.MethodGet, "/admin/dashboard", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"stats"`)
	s.Contains(rec.Body.String(), `"registrations"`)
}

func (s *HandlerSuite) TestSuspendUserAndAuditLog() {
	reg, _ := s.submitted()

	rec := s.do(http.MethodPatch, "/admin/users/"+reg.UserID.String()+"/status", `{"status":"suspended"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	p, err := s.profiles.Get(s.ctx, reg.UserID)
	s.Require().NoError(err)
	s.Equal(profilemodels.StatusSuspended, p.Status)

	rec = s.do(http.MethodPatch, "/admin/users/"+s.adminID.String()+"/status", `{"status":"suspended"}`)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/admin/actions?limit=10", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"action_type":"user_status_changed"`)

	rec = s.do(http.MethodGet, "/admin/actions?limit=-1", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestSuspendedAdminIsLockedOut() {
	other := id.UserID(uuid.New())
	_, err := s.profiles.Sync(s.ctx, profileservice.Claims{UserID: other, Role: id.RoleSuperAdmin})
	s.Require().NoError(err)
	_, err = s.profiles.SetStatus(s.ctx, other, s.adminID, profilemodels.StatusSuspended)
	s.Require().NoError(err)

	rec := s.do(http.MethodGet, "/admin/registrations", "")
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *HandlerSuite) TestMalformedIDs() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodPatch, "/admin/registrations/nope/status", `{"status":"approved"}`).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPatch, "/admin/documents/nope/status", `{"status":"approved"}`).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPatch, "/admin/registrations/"+uuid.NewString()+"/status", `{"status":"approved"}`).Code)
}

func (s *HandlerSuite) TestBackOfficeListings() {
	reg, doc := s.submitted()
	now := time.Now().UTC()
	s.Require().NoError(s.registrations.InsertPayment(s.ctx, &models.Payment{
		ID:             id.PaymentID(uuid.New()),
		RegistrationID: &reg.ID,
		UserID:         reg.UserID,
		AmountCents:    9000,
		Currency:       "usd",
		Status:         models.PaymentStatusSucceeded,
		CreatedAt:      now,
	}))
	s.Require().NoError(s.notifications.Insert(s.ctx, &notificationmodels.Notification{
		ID:        id.NotificationID(uuid.New()),
		UserID:    reg.UserID,
		Title:     "Documents received",
		Message:   "We are reviewing your filing.",
		Type:      notificationmodels.TypeInfo,
		CreatedAt: now,
	}))

	s.Run("clients carry their registrations", func() {
		rec := s.do(http.MethodGet, "/admin/clients", "")
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var body struct {
			Clients []struct {
				ID            string `json:"id"`
				Email         string `json:"email"`
				Registrations []struct {
					ID string `json:"id"`
				} `json:"registrations"`
			} `json:"clients"`
		}
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Require().Len(body.Clients, 2, "the admin and the applicant")
		byID := map[string]int{}
		for i, c := range body.Clients {
			byID[c.ID] = i
		}
		owner := body.Clients[byID[reg.UserID.String()]]
		s.Require().Len(owner.Registrations, 1)
		s.Equal(reg.ID.String(), owner.Registrations[0].ID)
		s.Empty(body.Clients[byID[s.adminID.String()]].Registrations)
	})

	s.Run("documents carry their owner", func() {
		rec := s.do(http.MethodGet, "/admin/documents", "")
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var body struct {
			Documents []struct {
				ID    string `json:"id"`
				Owner struct {
					Email string `json:"email"`
				} `json:"owner"`
			} `json:"documents"`
		}
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Require().Len(body.Documents, 1)
		s.Equal(doc.ID.String(), body.Documents[0].ID)
		s.Equal("ada@example.com", body.Documents[0].Owner.Email)
	})

	s.Run("payments carry their owner", func() {
		rec := s.do(http.MethodGet, "/admin/payments", "")
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var body struct {
			Payments []struct {
				AmountCents int64 `json:"amount_cents"`
				Owner       struct {
					Email string `json:"email"`
				} `json:"owner"`
			} `json:"payments"`
		}
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Require().Len(body.Payments, 1)
		s.Equal(int64(9000), body.Payments[0].AmountCents)
		s.Equal("ada@example.com", body.Payments[0].Owner.Email)
	})

	s.Run("notifications carry their recipient", func() {
		rec := s.do(http.MethodGet, "/admin/notifications", "")
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var body struct {
			Notifications []struct {
				Title     string `json:"title"`
				Recipient struct {
					ID string `json:"id"`
				} `json:"recipient"`
			} `json:"notifications"`
		}
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Require().Len(body.Notifications, 1)
		s.Equal("Documents received", body.Notifications[0].Title)
		s.Equal(reg.UserID.String(), body.Notifications[0].Recipient.ID)
	})
}

func (s *HandlerSuite) TestBackOfficeListings_SuspendedAdmin() {
	target := s.adminID
	other := id.UserID(uuid.New())
	_, err := s.profiles.Sync(s.ctx, profileservice.Claims{UserID: other, Email: "root@example.com", Role: id.RoleSuperAdmin})
	s.Require().NoError(err)
	_, err = s.profiles.SetStatus(s.ctx, other, target, profilemodels.StatusSuspended)
	s.Require().NoError(err)

	for _, path := range []string{"/admin/clients", "/admin/documents", "/admin/payments", "/admin/notifications"} {
		s.Equal(http.StatusForbidden, s.do(http.MethodGet, path, "").Code, path)
	}
}
