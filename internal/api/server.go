package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/version"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, eng *engine.Engine, versions *version.Manager, store domain.Store, cache domain.Cache, bus domain.EventBus, build string) *Server {
	handler := NewHandler(eng, versions, store, cache, bus, build)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Rating
	router.Post("/rate", handler.Rate)
	router.Post("/rate/bulk", handler.RateBulk)

	// Calculation audit
	router.Get("/calculations/{id}", handler.GetCalculation)
	router.Get("/calculations/{id}/replay", handler.ReplayCalculation)

	// Rate table lifecycle
	router.Route("/ratetables", func(r chi.Router) {
		r.Post("/", handler.SubmitRateTable)
		r.Get("/", handler.ListRateTables)
		r.Get("/active", handler.GetActiveRateTable)
		r.Get("/{id}", handler.GetRateTable)
		r.Post("/{id}/validate", handler.ValidateRateTable)
		r.Post("/{id}/approve", handler.ApproveRateTable)
		r.Post("/{id}/activate", handler.ActivateRateTable)
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
