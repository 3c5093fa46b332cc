// Package api exposes the daemon's control surface over HTTP: sidecar
// lifecycle, chat, script ingestion, bid data, settings, and a WebSocket
// event stream.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/vfxforge/bidd/bid"
	"github.com/vfxforge/bidd/config"
	"github.com/vfxforge/bidd/setup"
	"github.com/vfxforge/bidd/sidecar"
	"go.uber.org/zap"
)

// Server serves the HTTP control API. The registry and store are injected;
// the server owns no worker state of its own beyond loaded settings.
type Server struct {
	log      *zap.SugaredLogger
	registry *sidecar.Registry
	store    *bid.Store
	hub      *EventHub

	listenAddr string
	configDir  string

	settingsMu sync.Mutex
	settings   config.Settings

	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(s *Server)

// WithListenAddr sets the address the HTTP server listens on.
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithConfigDir sets where settings and the setup marker live.
func WithConfigDir(dir string) ServerOption {
	return func(s *Server) {
		s.configDir = dir
	}
}

// NewServer builds the control API around the given registry, store, and
// event hub, loading persisted settings from the config dir.
func NewServer(log *zap.SugaredLogger, registry *sidecar.Registry, store *bid.Store, hub *EventHub, opts ...ServerOption) (*Server, error) {
	s := &Server{
		log:        log.Named("api"),
		registry:   registry,
		store:      store,
		hub:        hub,
		listenAddr: "127.0.0.1:7780",
	}
	for _, o := range opts {
		o(s)
	}

	settings, err := config.Load(s.configDir)
	if err != nil {
		return nil, err
	}
	s.settings = settings
	return s, nil
}

func (s *Server) router() *httprouter.Router {
	router := httprouter.New()
	router.GET("/status", s.status)
	router.GET("/events", s.events)

	router.POST("/sidecar/start", s.sidecarStart)
	router.POST("/sidecar/stop", s.sidecarStop)
	router.POST("/sidecar/restart", s.sidecarRestart)

	router.POST("/chat", s.chat)
	router.POST("/script", s.processScript)
	router.POST("/bid/query", s.bidQuery)
	router.GET("/bid/shots", s.listShots)
	router.GET("/bid/shots/:id", s.getShot)
	router.PUT("/bid/shots/:id", s.updateShot)

	router.GET("/settings", s.getSettings)
	router.PUT("/settings", s.putSettings)
	router.POST("/settings/test-llm", s.testLLM)
	return router
}

// Run serves the control API and returns once the server has stopped.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}

	server := &http.Server{Handler: s.router()}
	s.httpServer = server

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

type statusResponse struct {
	SidecarRunning bool `json:"sidecar_running"`
	ShotsLoaded    int  `json:"shots_loaded"`
	FirstRun       bool `json:"first_run"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, statusResponse{
		SidecarRunning: s.registry.IsRunning(),
		ShotsLoaded:    len(s.store.Shots()),
		FirstRun:       setup.IsFirstRun(s.configDir),
	})
}

func (s *Server) sidecarStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		ScriptPath string `json:"script_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScriptPath == "" {
		writeError(w, http.StatusBadRequest, "script_path is required")
		return
	}
	if err := s.registry.Start(req.ScriptPath); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}

func (s *Server) sidecarStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.registry.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) sidecarRestart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := s.registry.Restart()
	if errors.Is(err, sidecar.ErrNotRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restarted": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
