// Package handler exposes the registration wizard over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mkcompany/internal/platform/middleware"
	"mkcompany/internal/registration/models"
	"mkcompany/internal/registration/session"
	"mkcompany/internal/registration/upload"
	dErrors "mkcompany/pkg/domain-errors"
	"mkcompany/pkg/platform/httputil"
	"mkcompany/pkg/requestcontext"
)

const (
	maxFilesPerRequest = 5
	multipartMemory    = 8 << 20
)

// Sessions hands out the wizard controller of a user.
type Sessions interface {
	Get(ctx context.Context, p session.Principal) (*session.Controller, error)
}

type JurisdictionLister interface {
	ListJurisdictions(ctx context.Context) ([]models.Jurisdiction, error)
}

// Handler serves the user-facing wizard routes. Routes assume RequireAuth and
// the profile middleware already ran.
type Handler struct {
	sessions      Sessions
	jurisdictions JurisdictionLister
	logger        *slog.Logger
	maxFileSize   int64
	uploadLimit   func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithUploadLimit wraps the upload route, typically with a rate limiter.
func WithUploadLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.uploadLimit = mw
	}
}

func WithMaxFileSize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxFileSize = n
		}
	}
}

func New(sessions Sessions, jurisdictions JurisdictionLister, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		sessions:      sessions,
		jurisdictions: jurisdictions,
		logger:        logger,
		maxFileSize:   upload.DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/registration", h.handleState)
	r.Post("/registration/advance", h.handleAdvance)
	r.Post("/registration/retreat", h.handleRetreat)
	r.Post("/registration/finalize", h.handleFinalize)
	r.Get("/registration/uploads", h.handleListUploads)
	r.Delete("/registration/uploads/{entryID}", h.handleRemoveUpload)
	if h.uploadLimit != nil {
		r.With(h.uploadLimit).Post("/registration/documents", h.handleUpload)
	} else {
		r.Post("/registration/documents", h.handleUpload)
	}
	r.Get("/jurisdictions", h.handleJurisdictions)
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		h.logger.ErrorContext(ctx, "user id missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return nil, false
	}
	c, err := h.sessions.Get(ctx, session.Principal{UserID: userID, Email: requestcontext.Email(ctx)})
	if err != nil {
		h.writeError(ctx, w, "failed to load registration session", err)
		return nil, false
	}
	return c, true
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c.State())
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	data, ok := httputil.DecodeAndPrepare[models.StepData](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	state, err := c.Advance(ctx, *data)
	if err != nil {
		h.writeStateError(ctx, w, "failed to advance registration", state, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (h *Handler) handleRetreat(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	state, err := c.Retreat(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "failed to go back", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	state, err := c.Finalize(ctx)
	if err != nil {
		h.writeStateError(ctx, w, "failed to submit registration", state, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (h *Handler) handleListUploads(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"uploads": c.Uploads()})
}

func (h *Handler) handleRemoveUpload(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := c.RemoveUpload(r.Context(), chi.URLParam(r, "entryID")); err != nil {
		h.writeError(r.Context(), w, "failed to remove upload", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload accepts multipart/form-data with a document_type field and one
// or more file parts. Per-file failures are reported in the returned entries.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize*maxFilesPerRequest+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodePayloadTooLarge, "upload too large"))
			return
		}
		h.logger.WarnContext(ctx, "invalid multipart body", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid multipart body"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	docType, err := models.ParseDocumentType(r.FormValue("document_type"))
	if err != nil {
		httputil.WriteError(w, dErrors.WithFields(dErrors.CodeValidation, "unknown document type",
			map[string]string{"document_type": "must be passport, identity_card or other"}))
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		httputil.WriteError(w, dErrors.WithFields(dErrors.CodeValidation, "no file provided",
			map[string]string{"file": "at least one file is required"}))
		return
	}
	if len(headers) > maxFilesPerRequest {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "too many files in one request"))
		return
	}

	files, closeAll, err := openFiles(headers)
	defer closeAll()
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to open uploaded file", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read upload"))
		return
	}

	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	entries, err := c.Upload(ctx, docType, files...)
	if err != nil {
		h.writeError(ctx, w, "upload rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"uploads": entries,
		"state":   c.State(),
	})
}

func openFiles(headers []*multipart.FileHeader) ([]upload.File, func(), error) {
	var closers []multipart.File
	closeAll := func() {
		for _, f := range closers {
			_ = f.Close()
		}
	}
	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, f)
		files = append(files, upload.File{
			Filename:     fh.Filename,
			DeclaredType: fh.Header.Get("Content-Type"),
			Size:         fh.Size,
			Body:         f,
		})
	}
	return files, closeAll, nil
}

func (h *Handler) handleJurisdictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.jurisdictions.ListJurisdictions(ctx)
	if err != nil {
		h.writeError(ctx, w, "failed to list jurisdictions", dErrors.Wrap(err, dErrors.CodePersistence, "failed to list jurisdictions"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"jurisdictions": list})
}

// writeStateError returns the error together with the unchanged wizard state
// so the client can keep rendering the current step and its last error.
func (h *Handler) writeStateError(ctx context.Context, w http.ResponseWriter, msg string, state session.State, err error) {
	code := dErrors.CodeOf(err)
	h.log(ctx, msg, err)
	body := map[string]any{"error": string(code)}
	if code != dErrors.CodeInternal {
		if de, ok := dErrors.As(err); ok {
			body["error_description"] = de.Message
			if len(de.Fields) > 0 {
				body["fields"] = de.Fields
			}
		}
	}
	if state.Registration != nil {
		body["state"] = state
	}
	httputil.WriteJSON(w, dErrors.HTTPStatus(code), body)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.log(ctx, msg, err)
	httputil.WriteError(w, err)
}

func (h *Handler) log(ctx context.Context, msg string, err error) {
	attrs := []any{"request_id", middleware.GetRequestID(ctx), "error", err}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodePersistence:
		h.logger.ErrorContext(ctx, msg, attrs...)
	default:
		h.logger.WarnContext(ctx, msg, attrs...)
	}
}
