package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "mkcompany/pkg/domain"
	"mkcompany/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*JWTClaims, error) {
	return s.claims, s.err
}

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	userID := uuid.New()

	var seen struct {
		userID id.UserID
		email  string
		role   id.Role
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.userID = requestcontext.UserID(r.Context())
		seen.email = requestcontext.Email(r.Context())
		seen.role = requestcontext.Role(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		h := RequireAuth(stubValidator{}, logger)(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/registration", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token is unauthorized", func(t *testing.T) {
		h := RequireAuth(stubValidator{err: errors.New("bad signature")}, logger)(next)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/registration", nil)
		req.Header.Set("Authorization", "Bearer abc")
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
	})

	t.Run("malformed subject is unauthorized", func(t *testing.T) {
		h := RequireAuth(stubValidator{claims: &JWTClaims{UserID: "nope"}}, logger)(next)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/registration", nil)
		req.Header.Set("Authorization", "Bearer abc")
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token populates principal", func(t *testing.T) {
		h := RequireAuth(stubValidator{claims: &JWTClaims{
			UserID: userID.String(),
			Email:  "ada@example.com",
			Role:   "admin",
		}}, logger)(next)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/registration", nil)
		req.Header.Set("Authorization", "Bearer abc")
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, id.UserID(userID), seen.userID)
		assert.Equal(t, "ada@example.com", seen.email)
		assert.Equal(t, id.RoleAdmin, seen.role)
	})

	t.Run("unknown role falls back to user", func(t *testing.T) {
		h := RequireAuth(stubValidator{claims: &JWTClaims{UserID: userID.String(), Role: "root"}}, logger)(next)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/registration", nil)
		req.Header.Set("Authorization", "Bearer abc")
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, id.RoleUser, seen.role)
	})
}
