// Package api is the HTTP control surface: status, scene selection, reload,
// and a websocket pushing every status change.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/controller"
	"lautenbacher.net/golights/logging"
	"lautenbacher.net/golights/scene"
)

// Controller is the part of a session the API drives.
type Controller interface {
	State() *controller.ControlState
	Scenes() []string
	Stats() controller.Stats
	Handle(cmd controller.Command) error
}

// Server serves the API. The controller can be replaced while it runs.
type Server struct {
	ctrl     atomic.Pointer[Controller]
	cfile    string
	poll     time.Duration
	http     *http.Server
	listener net.Listener

	// OnConfigSaved runs after /api/config saved a new configuration. Set it
	// before Start.
	OnConfigSaved func()
}

// NewServer creates a server for addr. cfile enables /api/config when set.
func NewServer(addr, cfile string, ctrl Controller) *Server {
	s := &Server{cfile: cfile, poll: 100 * time.Millisecond}
	s.Attach(ctrl)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Attach switches the server to another controller.
func (s *Server) Attach(ctrl Controller) {
	s.ctrl.Store(&ctrl)
}

func (s *Server) controller() Controller {
	return *s.ctrl.Load()
}

// Routes returns the handler with all API routes.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/scenes", s.handleScenes)
	mux.HandleFunc("POST /api/scene", s.handleSelect)
	mux.HandleFunc("POST /api/resume", s.handleCommand(controller.Resume))
	mux.HandleFunc("POST /api/reload", s.handleCommand(controller.Reload))
	mux.HandleFunc("POST /api/ui", s.handleCommand(controller.ToggleUI))
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.cfile != "" {
		mux.Handle("/api/config", config.NewConfigEndpoint(s.cfile, s.configSaved))
	}
	return mux
}

func (s *Server) configSaved() {
	if s.OnConfigSaved != nil {
		s.OnConfigSaved()
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	s.listener = ln
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
	slog.Info("HTTP API listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.http.Addr
	}
	return s.listener.Addr().String()
}

// Close stops the server, waiting up to timeout for open requests.
func (s *Server) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Status controller.Status `json:"status"`
	Stats  controller.Stats  `json:"stats"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller()
	writeJSON(w, http.StatusOK, StateResponse{Status: ctrl.State().Snapshot(), Stats: ctrl.Stats()})
}

func (s *Server) handleScenes(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller()
	writeJSON(w, http.StatusOK, map[string]any{
		"scenes":   ctrl.Scenes(),
		"rendered": ctrl.State().Snapshot().Rendered,
	})
}

type selectRequest struct {
	Scene string `json:"scene"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scene == "" {
		http.Error(w, "Invalid request body, expected {\"scene\": name}", http.StatusBadRequest)
		return
	}
	s.run(w, controller.Select(req.Scene))
}

func (s *Server) handleCommand(cmd func() controller.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.run(w, cmd())
	}
}

func (s *Server) run(w http.ResponseWriter, cmd controller.Command) {
	ctrl := s.controller()
	if err := ctrl.Handle(cmd); err != nil {
		slog.Warn("API command failed", "command", cmd.Kind, "scene", cmd.Scene, "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ctrl.State().Snapshot())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scene.ErrUnknownScene):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "n must be a positive number", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": logging.Recent(n)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
