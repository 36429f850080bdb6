// Package api exposes a read-only HTTP surface over the current batch state:
// liveness, run progress, and recorded routine metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/croplab/fieldrun/internal/logstore"
	"github.com/croplab/fieldrun/internal/workspace"
)

// LogReader reads recorded routine metrics. Satisfied by the log store.
type LogReader interface {
	Routines(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, routine string) ([]logstore.Entry, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
}

// Server is the read-only HTTP API server.
type Server struct {
	config    Config
	status    func() workspace.Progress
	logs      LogReader
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates the API server. status is called per request; it must be safe
// for concurrent use.
func New(config Config, status func() workspace.Progress, logs LogReader, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		status:    status,
		logs:      logs,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes configures the HTTP router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/logs", s.handleListRoutines)
	r.Get("/v1/logs/{routine}", s.handleGetRoutine)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
