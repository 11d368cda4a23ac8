// internal/inventory/handler.go
package inventory

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handler serves snapshots over HTTP for the dashboard service.
type Handler struct {
	provider Provider
}

func NewHandler(provider Provider) *Handler {
	return &Handler{provider: provider}
}

// Routes mounts the read endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/equipment", h.HandleEquipment)
	r.Get("/checkouts", h.HandleCheckouts)
	r.Get("/users", h.HandleUsers)
	return r
}

func (h *Handler) HandleEquipment(w http.ResponseWriter, r *http.Request) {
	equipment, err := h.provider.FetchEquipment(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, nonNil(equipment))
}

// HandleCheckouts lists loans still out. Only status=active is accepted as a
// status filter; due_after and due_before take RFC 3339 timestamps.
func (h *Handler) HandleCheckouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if status := q.Get("status"); status != "" && status != string(CheckoutActive) {
		http.Error(w, "only status=active is supported", http.StatusBadRequest)
		return
	}

	var filter CheckoutFilter
	for _, bound := range []struct {
		key string
		dst **time.Time
	}{
		{"due_after", &filter.DueAfter},
		{"due_before", &filter.DueBefore},
	} {
		raw := q.Get(bound.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid "+bound.key, http.StatusBadRequest)
			return
		}
		*bound.dst = &t
	}

	checkouts, err := h.provider.FetchActiveCheckouts(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, nonNil(checkouts))
}

func (h *Handler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.provider.FetchUsers(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, nonNil(users))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// nonNil keeps empty lists encoded as [] so clients can tell them from a
// missing body.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
