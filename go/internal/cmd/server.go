package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/roundsync/go/internal/room"
	"github.com/mcdev12/roundsync/go/internal/round"
	"github.com/mcdev12/roundsync/go/internal/timer"
)

func setupServer(config *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedOrigins: config.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	// Register services
	registerServices(mux, services)

	// Add health check endpoint
	setupHealthCheck(mux, services)

	// Wrap with CORS
	handler := c.Handler(mux)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Server.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	// Register round service
	roundServicePath, roundServiceHandler := round.NewRoundServiceHandler(services.Rounds)
	mux.Handle(roundServicePath, roundServiceHandler)

	// Remaining-time feed for server-mode countdowns
	timer.NewHandler(services.Timers).RegisterRoutes(mux)

	// Room sessions
	room.NewWebSocketHandler(services.Rooms, services.Connection).RegisterRoutes(mux)
}

func setupHealthCheck(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := services.Rooms.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]any{
			"status":            "ok",
			"active_rooms":      stats.ActiveRooms,
			"total_connections": stats.TotalConnections,
		}); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
