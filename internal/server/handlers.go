// Package server exposes the admin HTTP surface: health, metrics,
// pipeline stats, dead-letter inspection and replay, checkpoint history
// and pause/resume controls.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/veildata-systems/veilpipe/common/logging"
)

// Handler serves the admin endpoints over an engine.
type Handler struct {
	engine EngineOps
	log    *logging.Logger
}

// NewHandler creates the admin handler.
func NewHandler(engine EngineOps, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Default()
	}
	return &Handler{engine: engine, log: log.With(logging.Component("server"))}
}

// Health responds 200 while the process is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats returns counters and the rolling-window view.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

// DeadLetters lists dead-letter entries. ?limit= caps the listing.
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	entries, err := h.engine.DeadLetters(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "dlq_list_failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// ReplayDeadLetter resubmits one entry by id, or all entries when the id
// is "all".
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing_id", "entry id is required")
		return
	}

	if id == "all" {
		replayed, err := h.engine.ReplayAllDeadLetters(r.Context())
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "replay_failed", err.Error())
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"replayed": replayed})
		return
	}

	if err := h.engine.ReplayDeadLetter(r.Context(), id); err != nil {
		h.writeError(w, http.StatusNotFound, "replay_failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"replayed": 1})
}

// Checkpoints lists stored checkpoints, newest first.
func (h *Handler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 10)
	checkpoints, err := h.engine.Checkpoints(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "checkpoint_list_failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"checkpoints": checkpoints,
		"count":       len(checkpoints),
	})
}

// Pause suspends batch formation.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.engine.Pause()
	h.writeJSON(w, http.StatusOK, map[string]string{"state": "paused"})
}

// Resume re-enables batch formation.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.engine.Resume()
	h.writeJSON(w, http.StatusOK, map[string]string{"state": "running"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}
