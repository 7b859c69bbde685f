// Package server exposes skills over HTTP and over the Model Context
// Protocol. The HTTP API covers health, the skill catalog, command
// classification, SOP run control and rate limit checks, with Prometheus
// metrics at /metrics.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/classifier"
	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/ratelimit"
	"github.com/jingkaihe/skillbox/pkg/skills"
	"github.com/jingkaihe/skillbox/pkg/sop"
)

// Config holds the configuration for the HTTP server
type Config struct {
	Addr string
	// RPS and Burst size the per-client token bucket; zero RPS disables it.
	RPS   float64
	Burst int
	// SOPDir is watched for definition changes when set.
	SOPDir string
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return errors.Wrapf(err, "invalid address %q", c.Addr)
	}
	if c.RPS < 0 {
		return errors.Errorf("rps must not be negative, got %v", c.RPS)
	}
	return nil
}

// Deps are the services the handlers call.
type Deps struct {
	Runner     *sop.Runner
	Classifier *classifier.Classifier
	Limiter    ratelimit.Limiter
	Skills     map[string]*skills.Skill
}

// Server represents the HTTP API server
type Server struct {
	router      *mux.Router
	config      *Config
	deps        Deps
	definitions *Definitions
	metrics     *Metrics
	throttle    *clientThrottle
	server      *http.Server
}

// New creates a server. SOP definitions are loaded from cfg.SOPDir once;
// Start keeps them in sync with the directory.
func New(ctx context.Context, cfg *Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if deps.Runner == nil {
		return nil, errors.New("an SOP runner is required")
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.MustNew()
	}
	if deps.Skills == nil {
		deps.Skills = map[string]*skills.Skill{}
	}

	s := &Server{
		router:      mux.NewRouter(),
		config:      cfg,
		deps:        deps,
		definitions: NewDefinitions(cfg.SOPDir),
		metrics:     NewMetrics(),
	}
	if cfg.RPS > 0 {
		s.throttle = newClientThrottle(cfg.RPS, cfg.Burst)
	}

	s.definitions.onReload = func(n int) { s.metrics.sopDefinitions.Set(float64(n)) }
	if cfg.SOPDir != "" {
		if err := s.definitions.Reload(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("starting with partially loaded SOP definitions")
		}
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all the HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/skills", s.handleListSkills).Methods(http.MethodGet)
	s.router.HandleFunc("/classify", s.handleClassify).Methods(http.MethodPost)

	sopRouter := s.router.PathPrefix("/sop").Subrouter()
	sopRouter.HandleFunc("/definitions", s.handleListDefinitions).Methods(http.MethodGet)
	sopRouter.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	sopRouter.HandleFunc("/runs", s.handleStartRun).Methods(http.MethodPost)
	sopRouter.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	sopRouter.HandleFunc("/runs/{id}/audit", s.handleAudit).Methods(http.MethodGet)
	sopRouter.HandleFunc("/runs/{id}/{action:approve|reject|cancel|retry}", s.handleRunAction).Methods(http.MethodPost)

	s.router.HandleFunc("/ratelimit/{key}", s.handleRateLimit).Methods(http.MethodPost)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.throttleMiddleware)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// writeJSONResponse writes a JSON response
func (s *Server) writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(context.TODO()).WithError(err).Debug(message)
		message = message + ": " + err.Error()
	}
	s.writeJSONResponse(w, statusCode, map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.config.Addr)
	}

	if s.throttle != nil {
		go s.throttle.run(ctx)
	}
	if s.config.SOPDir != "" {
		go func() {
			if err := s.definitions.Watch(ctx); err != nil {
				logger.G(ctx).WithError(err).Warn("SOP definitions will not be reloaded")
			}
		}()
	}

	presenter.Info("Serving skillbox API on http://" + listener.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return errors.Wrap(err, "server error")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the server immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
