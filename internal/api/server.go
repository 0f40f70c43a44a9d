// Package api provides the HTTP server and REST API for Kestrel.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server is the HTTP API server.
type Server struct {
	cfg     domain.ServerConfig
	handler *Handler
	router  *chi.Mux
	srv     *http.Server
}

// NewServer creates the API server with its middleware stack and routes.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
	}
	s.router = s.buildRouter()

	readTimeout := time.Duration(cfg.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := time.Duration(cfg.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	// Middleware stack, outermost first.
	r.Use(CORSMiddleware)
	r.Use(RecoverMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	// Health endpoints, unauthenticated.
	r.Get("/health", s.handler.Health)
	r.Get("/ready", s.handler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluate", s.handler.Evaluate)
		r.Post("/screen", s.handler.Screen)

		r.Get("/assessments/{txnId}", s.handler.GetAssessment)
		r.Get("/transactions/{txnId}", s.handler.GetTransaction)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handler.ListRules)
			r.Post("/", s.handler.CreateRule)
			r.Post("/reload", s.handler.ReloadRules)
			r.Get("/{id}", s.handler.GetRule)
		})

		r.Route("/config", func(r chi.Router) {
			r.Put("/risk", s.handler.UpdateRiskConfig)
			r.Put("/compliance", s.handler.UpdateComplianceConfig)
		})
	})

	return r
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	slog.Info("starting http server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down http server")
	return s.srv.Shutdown(ctx)
}

// Router returns the underlying router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
