package timer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// RemainingPath serves the remaining-time feed.
const RemainingPath = "/api/timers/remaining"

// Handler exposes a Service over HTTP for clients running in server mode.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(RemainingPath, h.HandleRemaining)
}

// HandleRemaining answers GET /api/timers/remaining?timer_id=...
func (h *Handler) HandleRemaining(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	timerID := r.URL.Query().Get("timer_id")
	if timerID == "" {
		http.Error(w, "timer_id is required", http.StatusBadRequest)
		return
	}

	status, err := h.service.Remaining(r.Context(), timerID)
	if err != nil {
		if errors.Is(err, ErrTimerNotFound) {
			http.Error(w, "timer not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("timer_id", timerID).Msg("failed to read timer")
		http.Error(w, "failed to read timer", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write timer response")
	}
}
