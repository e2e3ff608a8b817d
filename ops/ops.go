// Package ops exposes the operational HTTP endpoints, liveness and
// Prometheus metrics, on an address of their own so probes never compete
// with site traffic for the serving listeners.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dabevlohn/cblt/telemetry"
)

// Config holds ops server configuration.
type Config struct {
	// Addr to listen on (e.g., "127.0.0.1:9090").
	Addr string

	// Token, when set, requires "Authorization: Bearer <Token>" on every
	// endpoint except /healthz.
	Token string

	// Logger for the ops server.
	Logger *slog.Logger
}

// Server is the operational HTTP server.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new ops server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9090"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{config: cfg, logger: cfg.Logger.With("component", "ops")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.authMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// handleHealth handles liveness probe requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start starts the ops server and blocks until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting ops server", "address", s.config.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the ops server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the ops server's listen address.
func (s *Server) Address() string {
	return s.config.Addr
}
