// Package api exposes dispatch runs over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/metrics"
	"github.com/ignite/zns-dispatch/internal/runstore"
	"github.com/ignite/zns-dispatch/internal/service/sending"
)

// RunService starts and cancels runs. *sending.Dispatcher implements it.
type RunService interface {
	Start(ctx context.Context, req sending.StartRequest) (*runstore.Run, error)
	Cancel(ctx context.Context, id string) error
	Active() []string
}

// RunReader reads stored runs. *runstore.Store implements it.
type RunReader interface {
	Get(ctx context.Context, id string) (*runstore.Run, error)
	List(ctx context.Context, limit int) ([]*runstore.Run, error)
	Results(ctx context.Context, id string) ([]dispatch.SendResult, error)
}

// SourceOpener resolves recipient source URIs. *recipients.Opener
// implements it.
type SourceOpener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Deps are the collaborators the server routes to. Metrics and Redis may be
// nil.
type Deps struct {
	Runs       RunService
	Store      RunReader
	Opener     SourceOpener
	Recipients config.RecipientsConfig
	OAID       string
	Metrics    *metrics.Metrics
	Redis      redis.UniversalClient
}

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	runs := NewRunsHandler(deps.Runs, deps.Store, deps.Opener, deps.Recipients, deps.OAID, cfg.MaxUploadBytes())
	health := NewHealthChecker(deps.Redis, deps.Runs)

	return &Server{
		config:  cfg,
		handler: SetupRoutes(cfg, runs, health, deps.Metrics),
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Uploads of large recipient files need the long read timeout.
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
