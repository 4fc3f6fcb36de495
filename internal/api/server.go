// Package api provides the HTTP REST surface for fred.
//
// Endpoints:
//
//	POST /api/chat           → process one conversation turn
//	POST /api/ingest         → ingest a document
//	GET  /api/threads/{id}   → inspect a thread's committed state
//	GET  /api/sources        → list ingested sources
//	GET  /health             → liveness probe
//	GET  /ready              → readiness probe (database ping)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery, logging, CORS
//   - health.go: liveness and readiness probes
//   - chat.go: turn processing and thread inspection
//   - ingest.go: document ingestion and source listing
//   - response.go: JSON response helpers and error mapping
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jfgonzales/fred/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Generous because a turn can include two model calls plus retrieval.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Config carries the server's dependencies.
type Config struct {
	Chat        *ChatHandler
	Ingest      *IngestHandler
	Health      *HealthHandler
	Logger      log.Logger
	CORSOrigins []string // allowed origins; "*" allows all
}

// Server is the HTTP server for fred's REST API.
type Server struct {
	mux         *http.ServeMux
	logger      log.Logger
	corsOrigins []string
}

// NewServer creates a server with all routes registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Chat == nil || cfg.Ingest == nil || cfg.Health == nil {
		return nil, errors.New("all handlers are required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	mux := http.NewServeMux()
	cfg.Health.RegisterRoutes(mux)
	cfg.Chat.RegisterRoutes(mux)
	cfg.Ingest.RegisterRoutes(mux)

	return &Server{
		mux:         mux,
		logger:      cfg.Logger.With("component", "api"),
		corsOrigins: cfg.CORSOrigins,
	}, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → CORS → routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(s.corsOrigins),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
