// Package handler exposes notifications over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mkcompany/internal/notification/models"
	"mkcompany/internal/platform/middleware"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
	"mkcompany/pkg/platform/httputil"
)

type Service interface {
	Send(ctx context.Context, d models.Draft) (*models.Notification, error)
	ListForUser(ctx context.Context) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// RegisterUser mounts the routes of the signed-in user.
func (h *Handler) RegisterUser(r chi.Router) {
	r.Get("/me/notifications", h.handleList)
	r.Post("/me/notifications/{id}/read", h.handleMarkRead)
}

// RegisterAdmin mounts the send route; mount it behind RequireAdminRole.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/notifications", h.handleSend)
}

type sendRequest struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`

	draft models.Draft
}

func (req *sendRequest) Normalize() {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
}

func (req *sendRequest) Validate() error {
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		return dErrors.WithFields(dErrors.CodeValidation, "notification is invalid",
			map[string]string{"user_id": "must be a valid user id"})
	}
	req.draft = models.Draft{
		UserID:  userID,
		Title:   req.Title,
		Message: req.Message,
		Type:    models.Type(req.Type),
	}
	req.draft.Normalize()
	return req.draft.Validate()
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[sendRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	n, err := h.service.Send(ctx, req.draft)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to send notification", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, n)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.service.ListForUser(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list notifications", "request_id", middleware.GetRequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"unread":        unread,
	})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.MarkRead(ctx, notificationID); err != nil {
		h.logger.WarnContext(ctx, "failed to mark notification read", "request_id", middleware.GetRequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
