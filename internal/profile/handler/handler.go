// Package handler exposes profile sync as middleware, the caller's own
// profile and the operator role endpoint.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mkcompany/internal/platform/middleware"
	"mkcompany/internal/profile/models"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
	audit "mkcompany/pkg/platform/audit"
	"mkcompany/pkg/platform/httputil"
	"mkcompany/pkg/requestcontext"
)

type RoleSetter interface {
	SetRole(ctx context.Context, actor, userID id.UserID, role id.Role) (*models.Profile, error)
}

// OpsHandler serves /ops routes. They sit behind RequireAdminToken rather
// than a user session, so changes are recorded under audit.SystemActor.
type OpsHandler struct {
	profiles RoleSetter
	logger   *slog.Logger
}

func NewOpsHandler(profiles RoleSetter, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{profiles: profiles, logger: logger}
}

func (h *OpsHandler) Register(r chi.Router) {
	r.Post("/ops/roles", h.handleSetRole)
}

type setRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`

	userID id.UserID
	role   id.Role
}

func (req *setRoleRequest) Normalize() {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
}

func (req *setRoleRequest) Validate() error {
	fields := map[string]string{}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		fields["user_id"] = "must be a valid user id"
	}
	role, err := id.ParseRole(req.Role)
	if err != nil {
		fields["role"] = "must be user, moderator, admin or super_admin"
	}
	if len(fields) > 0 {
		return dErrors.WithFields(dErrors.CodeValidation, "invalid role change", fields)
	}
	req.userID = userID
	req.role = role
	return nil
}

func (h *OpsHandler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[setRoleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	p, err := h.profiles.SetRole(ctx, audit.SystemActor, req.userID, req.role)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to set role",
			"user_id", req.userID,
			"role", req.role,
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "role updated by operator",
		"user_id", p.ID,
		"role", p.Role,
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, p)
}

type OwnProfile interface {
	Get(ctx context.Context, userID id.UserID) (*models.Profile, error)
	UpdateOwn(ctx context.Context, userID id.UserID, u models.Update) (*models.Profile, error)
}

// MeHandler serves the caller's own profile. Mount it behind SyncProfile.
type MeHandler struct {
	profiles OwnProfile
	logger   *slog.Logger
}

func NewMeHandler(profiles OwnProfile, logger *slog.Logger) *MeHandler {
	return &MeHandler{profiles: profiles, logger: logger}
}

func (h *MeHandler) Register(r chi.Router) {
	r.Get("/me/profile", h.handleGet)
	r.Patch("/me/profile", h.handleUpdate)
}

func (h *MeHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.profiles.Get(ctx, requestcontext.UserID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *MeHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[models.Update](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	userID := requestcontext.UserID(ctx)
	p, err := h.profiles.UpdateOwn(ctx, userID, *req)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to update profile",
			"user_id", userID,
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
