// Package server provides the HTTP server that wires all services together.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/objectfinder/object-finder/internal/bus"
	"github.com/objectfinder/object-finder/internal/config"
	"github.com/objectfinder/object-finder/internal/metrics"
	"github.com/objectfinder/object-finder/internal/objects"
	"github.com/objectfinder/object-finder/internal/pkg/errors"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
	"github.com/objectfinder/object-finder/internal/pkg/middleware"
	"github.com/objectfinder/object-finder/internal/search"
	"github.com/objectfinder/object-finder/internal/video"
)

// Server is the main HTTP server that wires all services together.
type Server struct {
	cfg        Config
	log        *logger.Logger
	httpServer *http.Server
	handler    http.Handler

	limiter *middleware.RateLimiter
	hub     *EventHub

	mu      sync.RWMutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// CORSOrigins are the allowed browser origins. Wildcards such as
	// https://*.vercel.app are accepted.
	CORSOrigins []string

	// RateLimit is requests per client per minute. Zero disables limiting.
	RateLimit int

	// Upload bounds accepted video uploads.
	Upload UploadLimits

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:        "0.0.0.0",
		Port:        8000,
		Version:     "dev",
		CORSOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		Upload: UploadLimits{
			MaxBytes:     50 * 1024 * 1024,
			AllowedTypes: []string{"video/mp4", "video/quicktime", "video/webm"},
		},
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    config.WriteTimeoutFor(5 * time.Minute),
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFrom derives the server config from the application config.
func ConfigFrom(appCfg *config.Config, version string) Config {
	return Config{
		Host:        appCfg.Host,
		Port:        appCfg.Port,
		Version:     version,
		CORSOrigins: appCfg.CORSOriginList(),
		RateLimit:   appCfg.Server.RateLimit,
		Upload: UploadLimits{
			MaxBytes:     appCfg.Upload.MaxBytes,
			AllowedTypes: appCfg.Upload.AllowedTypes,
		},
		ReadTimeout:     appCfg.Server.ReadTimeout,
		WriteTimeout:    appCfg.Server.WriteTimeout,
		ShutdownTimeout: appCfg.Server.ShutdownTimeout,
	}
}

// Deps are the services the server exposes. Bus, History and EventLog are
// optional.
type Deps struct {
	Store        objects.Store
	Video        *video.Client
	Orchestrator *search.Orchestrator
	Metrics      *metrics.Instrumentor
	Bus          bus.Bus
	History      HistoryReader
	EventLog     *bus.EventLogger
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New(errors.CodeValidation, "server requires a store")
	case d.Video == nil:
		return errors.New(errors.CodeValidation, "server requires a video client")
	case d.Orchestrator == nil:
		return errors.New(errors.CodeValidation, "server requires a search orchestrator")
	case d.Metrics == nil:
		return errors.New(errors.CodeValidation, "server requires an instrumentor")
	}
	return nil
}

// New creates a new server with all dependencies. The server does not own
// deps; closing them is left to the caller.
func New(cfg Config, deps Deps, log *logger.Logger) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultConfig().Port
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.Upload.MaxBytes <= 0 {
		cfg.Upload = DefaultConfig().Upload
	}

	s := &Server{
		cfg: cfg,
		log: log.WithComponent("server"),
		hub: NewEventHub(cfg.CORSOrigins, log),
	}

	if deps.Bus != nil {
		if err := s.hub.Attach(context.Background(), deps.Bus); err != nil {
			return nil, fmt.Errorf("attaching event hub: %w", err)
		}
	}

	mux := http.NewServeMux()

	NewHealthHandler(NewHealthChecker(deps.Store, deps.Video), cfg.Version).RegisterRoutes(mux)
	search.NewHandler(deps.Orchestrator).RegisterRoutes(mux)
	NewObjectsHandler(deps.Store, deps.Bus, log).RegisterRoutes(mux)
	NewUploadHandler(deps.Video, cfg.Upload, deps.Bus, log).RegisterRoutes(mux)
	NewAdminHandler(deps.Metrics, deps.Video, deps.History, deps.EventLog, log).RegisterRoutes(mux)
	mux.Handle("GET /api/events", s.hub)

	var handler http.Handler = mux
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimit))
		handler = s.limiter.Middleware(handler)
	}
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	handler = middleware.RequestLogger(log)(handler)
	s.handler = handler

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the websocket event hub.
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Start starts the HTTP server and blocks until it stops. A graceful Stop
// makes Start return nil.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr, "version", s.cfg.Version)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}

	if !s.started {
		s.hub.Close()
		return nil
	}

	s.log.Info("Shutting down server...")

	// Websocket streams never finish on their own; end them first.
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP shutdown error", "error", err)
		}
	}

	s.started = false
	s.log.Info("Server stopped")

	return err
}

// Running reports whether the server has been started and not stopped.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
