package room

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const connectTimeout = 10 * time.Second

// WebSocketHandler upgrades room connections and serves connection stats.
type WebSocketHandler struct {
	manager  *Manager
	upgrader websocket.Upgrader
	config   ConnectionConfig
	limiter  *IPRateLimiter
}

func NewWebSocketHandler(manager *Manager, config ConnectionConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
	if config.UpgradeRate > 0 {
		h.limiter = NewIPRateLimiter(config.UpgradeRate, config.UpgradeBurst)
	}
	return h
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

// HandleRoomConnection expects ?room_id= and a token in ?token= or an
// Authorization bearer header. Token checks happen after the upgrade so the
// client receives AUTH_INVALID_TOKEN as a frame.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to upgrade WebSocket connection")
		return
	}

	conn := newWSConn(ws, h.manager, h.config)
	go conn.writePump()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	id, err := h.manager.Connect(ctx, roomID, conn, token)
	if err != nil {
		log.Info().Err(err).Str("room_id", roomID).Str("connection_id", conn.ID()).Msg("room connection refused")
		conn.Close()
		return
	}

	log.Info().
		Str("connection_id", conn.ID()).
		Str("player_id", id.PlayerID).
		Str("room_id", roomID).
		Msg("WebSocket connection established")

	go conn.readPump()
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.manager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}
