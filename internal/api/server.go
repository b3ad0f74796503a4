package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/emirks/tercihify-chat/internal/api/health"
	"github.com/emirks/tercihify-chat/internal/metrics"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Port         int
	ServiceName  string
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer wires probes, metrics and the /api/ router onto one mux
func NewServer(cfg ServerConfig, healthHandler *health.Handler, apiRouter http.Handler, log *logger.Logger) *Server {
	log = log.With("component", "http_server")
	mux := http.NewServeMux()

	// Kubernetes probes
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)

	mux.Handle("/metrics", metrics.Handler())

	if apiRouter != nil {
		mux.Handle("/api/", apiRouter)
	}

	// Service info
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":%q,"version":%q,"status":"running"}`, cfg.ServiceName, cfg.Version)
	})

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	log.Infof("HTTP server configured on port %d", port)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the mux, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks until the server is stopped or fails
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown waits for active connections within the context deadline
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("HTTP server stopped")
	return nil
}
