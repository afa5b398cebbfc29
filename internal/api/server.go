// Package api is the HTTP surface of the lead engine: webhook ingestion,
// lead inspection, manual routing and scoring-rule administration.
// Ingestion endpoints validate, enqueue and return 202; all durable work
// happens in the workers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/genomiq/lead-engine/internal/config"
)

// Server wraps the HTTP server around the routed handlers.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	srv     *http.Server
}

// NewServer builds the server from the handler set.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	return &Server{
		cfg:     cfg,
		handler: SetupRoutes(h),
	}
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.handler }
