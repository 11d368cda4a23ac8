// internal/dashboard/handler.go
package dashboard

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/time/rate"

	"gostock/internal/inventory"
	"gostock/internal/notifications"
)

// Handler serves the consumer API.
type Handler struct {
	service Service
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewHandler builds the API. limiter throttles explicit refreshes; nil
// disables throttling.
func NewHandler(service Service, limiter *rate.Limiter, logger zerolog.Logger) *Handler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Handler{
		service: service,
		limiter: limiter,
		logger:  logger.With().Str("component", "http").Logger(),
	}
}

// Routes mounts the API under /api/v1 plus /healthz.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestLogger)
	r.Get("/healthz", h.HandleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", h.HandleStats)
		r.Get("/notifications", h.HandleNotifications)
		r.Get("/notifications/stream", h.HandleStream)
		r.Post("/notifications/read-all", h.HandleMarkAllRead)
		r.Post("/notifications/{id}/read", h.HandleMarkRead)
		r.Delete("/notifications/{id}", h.HandleDismiss)
		r.Post("/refresh", h.HandleRefresh)
		r.Post("/focus", h.HandleFocus)
		r.Post("/invalidate", h.HandleInvalidate)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

// HandleNotifications serves the filtered feed. The ETag is a hash of the
// encoded feed, which is deterministic for a given store state.
func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items := collect(h.service, filter)
	body, err := json.Marshal(items)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	sum := blake2b.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`

	w.Header().Set("ETag", etag)
	if !h.service.Status().NotificationsAvailable {
		w.Header().Set("X-Notifications-Unavailable", "true")
	}
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// HandleStream pushes the filtered feed as server-sent events, once on
// connect and again after every change.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	feed := h.service.Subscribe(ctx, filter)
	for {
		select {
		case <-ctx.Done():
			return
		case items, ok := <-feed:
			if !ok {
				return
			}
			data, err := json.Marshal(items)
			if err != nil {
				h.logger.Error().Err(err).Msg("encode feed event")
				return
			}
			fmt.Fprintf(w, "event: feed\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkRead(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"marked": h.service.MarkAllRead()})
}

func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Dismiss(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRefresh runs an explicit pass and reports its outcome.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limited", "refresh requested too often")
		return
	}
	if err := h.service.TriggerRefresh(r.Context(), ModeExplicit); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Status())
}

func (h *Handler) HandleFocus(w http.ResponseWriter, r *http.Request) {
	h.service.Focus()
	w.WriteHeader(http.StatusAccepted)
}

// HandleInvalidate schedules a post-mutation refresh. Silent invalidations
// return at once; explicit ones wait for the pass.
func (h *Handler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	mode := ModeSilent
	if raw := r.URL.Query().Get("mode"); raw != "" {
		m, ok := ParseMode(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "mode must be silent or explicit")
			return
		}
		mode = m
	}

	done := h.service.Invalidate(mode)
	if mode == ModeSilent {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	select {
	case err := <-done:
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.service.Status())
	case <-r.Context().Done():
	}
}

func parseFilter(r *http.Request) (notifications.Filter, error) {
	var f notifications.Filter
	q := r.URL.Query()
	if raw := q.Get("type"); raw != "" {
		t, ok := notifications.ParseType(raw)
		if !ok {
			return f, fmt.Errorf("unknown notification type %q", raw)
		}
		f.Type = t
	}
	if raw := q.Get("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("invalid unread flag %q", raw)
		}
		f.UnreadOnly = unread
	}
	return f, nil
}

func collect(s Service, f notifications.Filter) []notifications.Item {
	items := []notifications.Item{}
	for it := range s.Notifications(f) {
		items = append(items, it)
	}
	return items
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notifications.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrSnapshotFetch):
		writeError(w, http.StatusBadGateway, "snapshot_fetch", err.Error())
	case errors.Is(err, inventory.ErrMalformedSnapshot):
		writeError(w, http.StatusBadGateway, "malformed_snapshot", err.Error())
	case errors.Is(err, notifications.ErrDerivationInternal):
		writeError(w, http.StatusInternalServerError, "derivation_internal", err.Error())
	case errors.Is(err, ErrSchedulerStopped):
		writeError(w, http.StatusServiceUnavailable, "stopped", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
