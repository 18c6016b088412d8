// Package api serves the query engine and the rebuild orchestrator over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kgindex/internal/auth"
	"kgindex/internal/query"
	"kgindex/internal/rebuild"
)

// Rebuilder is the part of the orchestrator the server drives.
type Rebuilder interface {
	Run(ctx context.Context, mode rebuild.Mode) (*rebuild.Outcome, error)
	Status() rebuild.Status
	Backups() ([]rebuild.Backup, error)
}

// Server represents the HTTP API server
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	addr      string
	logger    *slog.Logger
	engine    *query.Engine
	rebuilder Rebuilder
	guard     *auth.AdminGuard
	registry  *prometheus.Registry
	metrics   *Metrics
	startTime time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithRebuilder enables /status rebuild details and POST /rebuild.
func WithRebuilder(r Rebuilder) Option {
	return func(s *Server) { s.rebuilder = r }
}

// WithAdminGuard sets the authorizer for administrative endpoints.
func WithAdminGuard(g *auth.AdminGuard) Option {
	return func(s *Server) { s.guard = g }
}

// WithRegistry serves reg on /metrics. Server metrics are registered on it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// NewServer creates a new HTTP server instance
func NewServer(addr string, engine *query.Engine, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		logger:    logger,
		engine:    engine,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.guard == nil {
		s.guard = auth.NewAdminGuard("", auth.DefaultRateLimitConfig(), logger)
	}
	s.metrics = NewMetrics(s.registry)

	s.registerRoutes()

	handler := s.applyMiddleware(s.router)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // POST /rebuild answers when the run finishes
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully")
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last one wraps first)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = s.metrics.Middleware()(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	handler = CORSMiddleware()(handler)
	return handler
}
