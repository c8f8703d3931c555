package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/blaze/internal/block"
	"github.com/me/blaze/internal/config"
	"github.com/me/blaze/internal/hydrate"
	"github.com/me/blaze/internal/scheduler"
	"github.com/me/blaze/internal/store"
)

// Server is the blaze REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	manager   *scheduler.Manager
	pool      *hydrate.Pool
	store     store.Store // optional; /executions answers 503 without it
	cache     *block.Cache
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithBlockCache shares broadcast blocks through c instead of a private cache.
func WithBlockCache(c *block.Cache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, mgr *scheduler.Manager, pool *hydrate.Pool, st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		manager:   mgr,
		pool:      pool,
		store:     st,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = block.NewCache()
	}
	mgr.OnAppIdle(s.evictBroadcast)

	s.routes()
	return s
}

// evictBroadcast drops the shared broadcast blocks of an application that
// has no live task left.
func (s *Server) evictBroadcast(appID string) {
	if n := s.cache.Drop(appID); n > 0 {
		s.logger.Debug("broadcast blocks evicted", "app_id", appID, "blocks", n)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)
		r.Get("/queue", s.handleQueue)
		r.Get("/executions", s.handleListExecutions)

		r.Post("/apps/{appID}/tasks", s.handleSubmitTask)

		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Get("/wait-time", s.handleWaitTime)
			r.Post("/data", s.handleDataReady)
			r.Get("/output", s.handleOutput)
		})
	})
}
