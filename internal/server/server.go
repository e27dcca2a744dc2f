// Package server provides the HTTP server for the GymBuddy squat coach.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/gymbuddy/internal/capture"
	"github.com/ayusman/gymbuddy/internal/log"
	"github.com/ayusman/gymbuddy/internal/server/api"
	"github.com/ayusman/gymbuddy/internal/session"
	"github.com/ayusman/gymbuddy/internal/squat"
	"github.com/ayusman/gymbuddy/internal/store"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "GymBuddy backend"

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	// Factory creates one coaching session per /ws connection.
	Factory *session.Factory
	Camera  capture.Camera
	// Live receives frame telemetry; nil disables /api/live.
	Live *Hub
	// MaxFrameBytes limits a single inbound WebSocket message.
	MaxFrameBytes int64
	// OnCoaching is told when the coaching flag changes through the API.
	OnCoaching func(enabled bool)
}

// Server represents the HTTP server for the GymBuddy application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: log.With("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/health", s.handleHealth)

	if s.config.Factory != nil {
		s.mux.Handle("/ws", NewCoachHandler(s.config.Factory, s.config.Live, s.config.MaxFrameBytes))
	}

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)

		thresholds := squatThresholds(s.config.Factory)
		s.mux.Handle("/api/settings", api.NewSettingsHandler(s.config.Store, thresholds, s.config.OnCoaching))
	}

	if s.config.Live != nil {
		s.mux.Handle("/api/live", s.config.Live)
	}

	if s.config.Camera != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Camera))
	}

	s.mux.HandleFunc("/api", s.handleInfo)

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	} else {
		s.mux.HandleFunc("/", s.handleRoot)
	}
}

// ServeHTTP implements the http.Handler interface. Every response carries
// permissive CORS headers so browser clients on other origins can connect.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// handleRoot answers GET / with the service description when no static
// directory is served.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.handleInfo(w, r)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"name":      ServiceName,
		"status":    "ok",
		"health":    "/api/health",
		"websocket": "/ws",
	}
	s.writeJSON(w, response)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if f := s.config.Factory; f != nil {
		response["active_sessions"] = f.Active()
		response["total_sessions"] = f.Total()
	}
	if s.config.Live != nil {
		response["live_clients"] = s.config.Live.Clients()
		response["live_dropped"] = s.config.Live.Dropped()
	}

	s.writeJSON(w, response)
}

func squatThresholds(f *session.Factory) squat.Thresholds {
	if f == nil {
		return squat.DefaultThresholds()
	}
	return f.Thresholds()
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, s)
}
