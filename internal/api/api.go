package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/CermakM/osiris-build-observer/internal/status"
)

// Handler serves the observer status API.
type Handler struct {
	version string
	store   *status.Store
}

// NewHandler builds a Handler bound to the status store.
func NewHandler(version string, store *status.Store) *Handler {
	return &Handler{version: version, store: store}
}

// Register wires all API endpoints on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/observer/v1/healthz", h.healthz)
	mux.HandleFunc("/observer/v1/readyz", h.readyz)
	mux.HandleFunc("/observer/v1/status", h.status)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Latest()
	if snap.Watching {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if snap.StreamError != "" {
		respondError(w, http.StatusServiceUnavailable, snap.StreamError)
		return
	}
	respondError(w, http.StatusServiceUnavailable, "watch not started")
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"version":   h.version,
		"observer":  h.store.Latest(),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	respondJSON(w, http.StatusOK, payload)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
