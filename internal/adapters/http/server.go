// Package http provides the metrics and progress HTTP server.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/terrapatch/internal/adapters/metrics"
	"github.com/jobrunner/terrapatch/internal/config"
	"github.com/jobrunner/terrapatch/internal/ports/input"
)

// Server exposes Prometheus metrics and a progress snapshot while a
// harvest runs. It carries no harvest control surface; stop the process
// to stop the run.
type Server struct {
	server   *http.Server
	router   *mux.Router
	progress input.ProgressReporter
	logger   *slog.Logger
	config   config.MetricsConfig
}

// NewServer creates the metrics HTTP server.
func NewServer(cfg config.MetricsConfig, progress input.ProgressReporter, logger *slog.Logger) *Server {
	s := &Server{
		progress: progress,
		logger:   logger,
		config:   cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.recoveryMiddleware)

	r.Handle(s.config.Path, metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/progress", s.handleProgress).Methods(http.MethodGet)

	return r
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("metrics server listening", "addr", s.config.Address())
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.progress.Progress()); err != nil {
		s.logger.Error("encoding progress", "error", err)
	}
}

// recoveryMiddleware keeps a handler panic from killing the harvest.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
