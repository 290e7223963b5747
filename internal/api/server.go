// Package api exposes the plugin manager and binding store over HTTP for the
// wall panel and administration clients, plus a websocket for live state
// updates. It is a thin transport: all behavior lives in the manager.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"panelhub/internal/bindings"
	"panelhub/internal/manager"
	"panelhub/pkg/plugin"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves the hub's REST and websocket endpoints.
type Server struct {
	manager  *manager.Manager
	bindings *bindings.Store
	hub      *Hub
	logger   *zap.Logger
	server   *http.Server
}

// NewServer wires the routes. The gatherer backs the /metrics endpoint.
func NewServer(mgr *manager.Manager, bindingStore *bindings.Store, hub *Hub, gatherer prometheus.Gatherer, logger *zap.Logger, port int) *Server {
	s := &Server{
		manager:  mgr,
		bindings: bindingStore,
		hub:      hub,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", hub.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", s.handleListPlugins)
			r.Route("/{pluginID}", func(r chi.Router) {
				r.Get("/", s.handleGetPlugin)
				r.Get("/config", s.handleGetConfig)
				r.Put("/config", s.handleSetConfig)
				r.Post("/discover", s.handleDiscover)
				r.Post("/test", s.handleTest)
				r.Get("/devices/{deviceID}/state", s.handleDeviceState)
			})
		})
		r.Route("/bindings", func(r chi.Router) {
			r.Get("/", s.handleListBindings)
			r.Post("/", s.handleCreateBinding)
			r.Delete("/{bindingID}", s.handleDeleteBinding)
			r.Post("/{bindingID}/action", s.handleBindingAction)
		})
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests that drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.Info("API server listening", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Plugins())
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pluginID")
	info, ok := s.manager.Plugin(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("plugin %s is not registered", id))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pluginID")
	cfg, ok := s.manager.PluginConfig(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("plugin %s is not registered", id))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pluginID")

	var update manager.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid config update: %v", err))
		return
	}

	cfg, err := s.manager.SetPluginConfig(r.Context(), id, update)
	if err != nil {
		s.logger.Warn("Config update failed",
			zap.String("plugin", id), zap.Error(err))
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pluginID")

	devices, err := s.manager.Discover(r.Context(), id)
	if err != nil {
		s.logger.Warn("Discovery failed",
			zap.String("plugin", id), zap.Error(err))
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pluginID")
	writeJSON(w, http.StatusOK, s.manager.TestConnection(r.Context(), id))
}

func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pluginID")
	deviceID := chi.URLParam(r, "deviceID")

	state := s.manager.DeviceState(r.Context(), id, deviceID)
	// A nil state means "unknown"; it is not an error.
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bindings.All())
}

func (s *Server) handleCreateBinding(w http.ResponseWriter, r *http.Request) {
	var b bindings.Binding
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid binding: %v", err))
		return
	}

	created, err := s.bindings.Create(b)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bindingID")
	if !s.bindings.Delete(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("binding %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actionRequest is the body of POST /api/bindings/{id}/action.
type actionRequest struct {
	NewState   bool `json:"newState"`
	SpeedLevel *int `json:"speedLevel,omitempty"`
}

func (s *Server) handleBindingAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bindingID")

	b, ok := s.bindings.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("binding %s not found", id))
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid action: %v", err))
		return
	}

	result := s.manager.ExecuteAction(r.Context(), plugin.ActionContext{
		Binding:    b.DeviceBinding,
		NewState:   req.NewState,
		SpeedLevel: req.SpeedLevel,
	})
	writeJSON(w, http.StatusOK, result)
}

// statusForError maps the runtime's error kinds onto HTTP statuses.
func statusForError(err error) int {
	var configErr *plugin.ConfigError
	var routingErr *plugin.RoutingError
	var upstreamErr *plugin.UpstreamError
	switch {
	case errors.As(err, &configErr):
		return http.StatusBadRequest
	case errors.As(err, &routingErr):
		return http.StatusNotFound
	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
