package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/transactions", func(r chi.Router) {
		r.Post("/assess", handler.Assess)
		r.Post("/submit", handler.Submit)
		r.Get("/{id}", handler.GetTransaction)
		r.Get("/{id}/executions", handler.ListExecutions)

		// Manual review (officer required)
		r.Group(func(r chi.Router) {
			r.Use(OfficerMiddleware)
			r.Post("/{id}/approve", handler.Approve)
			r.Post("/{id}/reject", handler.Reject)
		})
	})

	router.Get("/alerts", handler.ListAlerts)

	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Post("/reload", handler.ReloadRules)
		r.Get("/{id}", handler.GetRule)
	})

	router.Route("/keywords", func(r chi.Router) {
		r.Post("/score", handler.ScoreKeywords)
		r.Post("/reload", handler.ReloadKeywords)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
