package handler

import (
	"context"
	"log/slog"
	"net/http"

	"mkcompany/internal/platform/middleware"
	"mkcompany/internal/profile/models"
	"mkcompany/internal/profile/service"
	dErrors "mkcompany/pkg/domain-errors"
	"mkcompany/pkg/platform/httputil"
	"mkcompany/pkg/requestcontext"
)

type Syncer interface {
	Sync(ctx context.Context, c service.Claims) (*models.Profile, error)
}

// SyncProfile loads or creates the caller's profile and replaces the role
// taken from the token with the stored one. Suspended accounts get 403.
// It must run after auth.RequireAuth.
func SyncProfile(profiles Syncer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, err := profiles.Sync(ctx, service.Claims{
				UserID: requestcontext.UserID(ctx),
				Email:  requestcontext.Email(ctx),
				Role:   requestcontext.Role(ctx),
			})
			if err != nil {
				logger.ErrorContext(ctx, "profile sync failed",
					"user_id", requestcontext.UserID(ctx),
					"request_id", middleware.GetRequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}
			if !p.IsActive() {
				logger.WarnContext(ctx, "suspended account rejected",
					"user_id", p.ID,
					"request_id", middleware.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "account is suspended"))
				return
			}
			email := p.Email
			if email == "" {
				email = requestcontext.Email(ctx)
			}
			ctx = requestcontext.WithPrincipal(ctx, p.ID, email, p.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
