package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mkcompany/internal/platform/metrics"
	"mkcompany/internal/platform/middleware"
	dErrors "mkcompany/pkg/domain-errors"
	"mkcompany/pkg/platform/httputil"
)

const defaultHeartbeat = 25 * time.Second

var knownTables = []string{
	TableRegistrations,
	TableDocuments,
	TableProfiles,
	TableNotifications,
	TableAdminActions,
}

// Handler streams change events to admin views as Server-Sent Events.
type Handler struct {
	events    Subscriber
	logger    *slog.Logger
	metrics   *metrics.Metrics
	heartbeat time.Duration
}

func NewHandler(events Subscriber, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		events:    events,
		logger:    logger,
		metrics:   m,
		heartbeat: defaultHeartbeat,
	}
}

// Register mounts GET /admin/events. The router must not apply a request
// timeout to it.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/events", h.handleEvents)
}

// handleEvents accepts ?tables=registrations,documents to narrow the stream.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	tables, err := parseTables(r.URL.Query().Get("tables"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.ErrorContext(ctx, "response writer does not support streaming", "request_id", requestID)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := h.events.Subscribe(ctx, tables...)
	if h.metrics != nil {
		h.metrics.SSEClients.Inc()
		defer h.metrics.SSEClients.Dec()
	}
	h.logger.InfoContext(ctx, "change stream opened", "request_id", requestID, "tables", tables)

	_, _ = fmt.Fprint(w, ": stream started\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Table, payload)
			flusher.Flush()
		}
	}
}

func parseTables(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var tables []string
	for _, part := range strings.Split(raw, ",") {
		t := strings.TrimSpace(part)
		if t == "" {
			continue
		}
		if !slices.Contains(knownTables, t) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "unknown table "+t)
		}
		tables = append(tables, t)
	}
	return tables, nil
}
