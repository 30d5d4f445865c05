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

	"mkcompany/internal/profile/models"
	"mkcompany/internal/profile/service"
	"mkcompany/internal/profile/store"
	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/audit/publisher"
	auditmemory "mkcompany/pkg/platform/audit/store/memory"
	"mkcompany/pkg/platform/middleware/admin"
	"mkcompany/pkg/requestcontext"
)

type HandlerSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *service.Service
	logger  *slog.Logger
	router  chi.Router
	seen    id.Role
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = store.NewInMemory()
	s.service = service.New(s.store, publisher.New(auditmemory.NewInMemoryStore(), publisher.WithLogger(s.logger)),
		service.WithLogger(s.logger))

	hash, err := admin.HashToken("ops-secret")
	s.Require().NoError(err)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(SyncProfile(s.service, s.logger))
		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			s.seen = requestcontext.Role(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})
		NewMeHandler(s.service, s.logger).Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(hash, s.logger))
		NewOpsHandler(s.service, s.logger).Register(r)
	})
	s.router = r
}

func (s *HandlerSuite) get(userID id.UserID, claimedRole id.Role) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	ctx := requestcontext.WithPrincipal(req.Context(), userID, "ada@example.com", claimedRole)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func (s *HandlerSuite) TestSyncProfile_StoredRoleWins() {
	userID := id.UserID(uuid.New())
	s.Equal(http.StatusNoContent, s.get(userID, id.RoleUser).Code)
	s.Equal(id.RoleUser, s.seen)

	rec := s.get(userID, id.RoleSuperAdmin)
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal(id.RoleUser, s.seen, "a later token cannot raise the stored role")
}

func (s *HandlerSuite) TestSyncProfile_SuspendedIsForbidden() {
	userID := id.UserID(uuid.New())
	s.Require().Equal(http.StatusNoContent, s.get(userID, id.RoleUser).Code)
	_, err := s.store.Execute(context.Background(), userID,
		func(*models.Profile) error { return nil },
		func(p *models.Profile) { p.ApplyStatus(models.StatusSuspended, time.Now()) },
	)
	s.Require().NoError(err)

	rec := s.get(userID, id.RoleUser)
	s.Equal(http.StatusForbidden, rec.Code)
	s.Contains(rec.Body.String(), "account is suspended")
}

func (s *HandlerSuite) TestSyncProfile_MissingPrincipal() {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) postRole(token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ops/roles", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestSetRole() {
	userID := id.UserID(uuid.New())
	s.Require().Equal(http.StatusNoContent, s.get(userID, id.RoleUser).Code)

	rec := s.postRole("ops-secret", `{"user_id":"`+userID.String()+`","role":"Admin"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var body models.Profile
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Equal(id.RoleAdmin, body.Role)

	s.get(userID, id.RoleUser)
	s.Equal(id.RoleAdmin, s.seen)
}

func (s *HandlerSuite) TestSetRole_Rejections() {
	s.Equal(http.StatusUnauthorized, s.postRole("wrong", `{}`).Code)

	rec := s.postRole("ops-secret", `{"user_id":"nope","role":"root"}`)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Contains(rec.Body.String(), `"user_id"`)
	s.Contains(rec.Body.String(), `"role"`)

	rec = s.postRole("ops-secret", `{"user_id":"`+uuid.NewString()+`","role":"admin"}`)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) patchProfile(userID id.UserID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPatch, "/me/profile", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := requestcontext.WithPrincipal(req.Context(), userID, "ada@example.com", id.RoleUser)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func (s *HandlerSuite) TestUpdateOwnProfile() {
	userID := id.UserID(uuid.New())

	rec := s.patchProfile(userID, `{"full_name":"Ada Lovelace","email":"ada@lovelace.org"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var body models.Profile
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Equal("Ada Lovelace", body.FullName)
	s.Equal("ada@lovelace.org", body.Email)

	req := httptest.NewRequest(http.MethodGet, "/me/profile", nil)
	ctx := requestcontext.WithPrincipal(req.Context(), userID, "ada@example.com", id.RoleUser)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req.WithContext(ctx))
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Ada Lovelace")
}

func (s *HandlerSuite) TestUpdateOwnProfile_Rejections() {
	userID := id.UserID(uuid.New())

	rec := s.patchProfile(userID, `{"email":"not-an-email"}`)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Contains(rec.Body.String(), `"email"`)

	rec = s.patchProfile(userID, `{"role":"super_admin"}`)
	s.Equal(http.StatusBadRequest, rec.Code, "role is not a profile field a user can set")

	p, err := s.service.Get(context.Background(), userID)
	s.Require().NoError(err)
	s.Equal(id.RoleUser, p.Role)
}
