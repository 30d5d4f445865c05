// Package handler exposes the admin back-office over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"mkcompany/internal/platform/middleware"
	profilemodels "mkcompany/internal/profile/models"
	"mkcompany/internal/registration/models"
	"mkcompany/internal/review/service"
	id "mkcompany/pkg/domain"
	dErrors "mkcompany/pkg/domain-errors"
	audit "mkcompany/pkg/platform/audit"
	"mkcompany/pkg/platform/httputil"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

type Service interface {
	ListRegistrations(ctx context.Context) ([]models.RegistrationView, error)
	Dashboard(ctx context.Context) (*service.Dashboard, error)
	Stats(ctx context.Context) (*models.Stats, error)
	SetStatus(ctx context.Context, registrationID id.RegistrationID, status models.Status) (*models.Registration, error)
	SetDocumentStatus(ctx context.Context, documentID id.DocumentID, status models.DocumentStatus, notes string) (*models.Document, error)
	SetUserStatus(ctx context.Context, userID id.UserID, status profilemodels.Status) (*profilemodels.Profile, error)
	AuditLog(ctx context.Context, limit int) ([]audit.AdminAction, error)
	ListClients(ctx context.Context) ([]service.Client, error)
	ListDocuments(ctx context.Context) ([]models.DocumentView, error)
	ListPayments(ctx context.Context) ([]models.PaymentView, error)
	ListNotifications(ctx context.Context) ([]service.NotificationView, error)
}

// Handler serves /admin routes. Mount it behind RequireAuth, the profile
// middleware and RequireAdminRole.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/registrations", h.handleList)
	r.Get("/admin/dashboard", h.handleDashboard)
	r.Get("/admin/stats", h.handleStats)
	r.Get("/admin/actions", h.handleAuditLog)
	r.Get("/admin/clients", h.handleClients)
	r.Get("/admin/documents", h.handleDocuments)
	r.Get("/admin/payments", h.handlePayments)
	r.Get("/admin/notifications", h.handleNotifications)
	r.Patch("/admin/registrations/{id}/status", h.handleSetStatus)
	r.Patch("/admin/documents/{id}/status", h.handleSetDocumentStatus)
	r.Patch("/admin/users/{id}/status", h.handleSetUserStatus)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var status models.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" && raw != "all" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		status = st
	}
	list, err := h.service.ListRegistrations(ctx)
	if err != nil {
		h.writeError(ctx, w, "failed to list registrations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"registrations": service.FilterByStatus(list, status),
	})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "failed to load dashboard", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "failed to load statistics", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}
	actions, err := h.service.AuditLog(r.Context(), limit)
	if err != nil {
		h.writeError(r.Context(), w, "failed to load admin actions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (h *Handler) handleClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.service.ListClients(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "failed to list clients", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (h *Handler) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListDocuments(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "failed to list documents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) handlePayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "failed to list payments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListNotifications(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "failed to list notifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (req *statusRequest) Normalize() {
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
}

func (req *statusRequest) Validate() error {
	if req.Status == "" {
		return dErrors.WithFields(dErrors.CodeValidation, "status is required",
			map[string]string{"status": "required"})
	}
	return nil
}

type documentReviewRequest struct {
	Status     string `json:"status"`
	AdminNotes string `json:"admin_notes"`
}

func (req *documentReviewRequest) Normalize() {
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	req.AdminNotes = strings.TrimSpace(req.AdminNotes)
}

func (req *documentReviewRequest) Validate() error {
	if req.Status != string(models.DocumentStatusApproved) && req.Status != string(models.DocumentStatusRejected) {
		return dErrors.WithFields(dErrors.CodeValidation, "invalid review decision",
			map[string]string{"status": "must be approved or rejected"})
	}
	return nil
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	registrationID, err := id.ParseRegistrationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[statusRequest](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reg, err := h.service.SetStatus(ctx, registrationID, status)
	if err != nil {
		h.writeError(ctx, w, "failed to change registration status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reg)
}

func (h *Handler) handleSetDocumentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID, err := id.ParseDocumentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[documentReviewRequest](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return
	}
	doc, err := h.service.SetDocumentStatus(ctx, documentID, models.DocumentStatus(req.Status), req.AdminNotes)
	if err != nil {
		h.writeError(ctx, w, "failed to review document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[statusRequest](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return
	}
	status, err := profilemodels.ParseStatus(req.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.service.SetUserStatus(ctx, userID, status)
	if err != nil {
		h.writeError(ctx, w, "failed to change account status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	attrs := []any{"request_id", middleware.GetRequestID(ctx), "error", err}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodePersistence:
		h.logger.ErrorContext(ctx, msg, attrs...)
	default:
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
