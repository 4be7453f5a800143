package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashita-ai/tasklane/internal/dispatch"
	"github.com/ashita-ai/tasklane/internal/orchestrator"
	"github.com/ashita-ai/tasklane/internal/ratelimit"
)

// Orchestrator handles acknowledged Slack events.
type Orchestrator interface {
	HandleMessage(ctx context.Context, msg orchestrator.Message) (orchestrator.Outcome, error)
	HandleInteraction(ctx context.Context, in orchestrator.Interaction) (orchestrator.Outcome, error)
}

// Dispatcher runs work after the HTTP response is written. Jobs sharing a
// key run serially in submission order.
type Dispatcher interface {
	SubmitKeyed(key, name string, fn dispatch.Job) bool
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the tasklane HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds the server's dependencies and HTTP settings. DB and Limiter
// may be nil.
type Config struct {
	Orchestrator  Orchestrator
	Dispatcher    Dispatcher
	DB            Pinger
	Limiter       ratelimit.Limiter
	SigningSecret string
	Logger        *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	Version             string
}

// New creates a server with all routes configured.
func New(cfg Config) *Server {
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NoopLimiter{}
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}
	h := &handlers{
		orch:       cfg.Orchestrator,
		dispatcher: cfg.Dispatcher,
		db:         cfg.DB,
		limiter:    cfg.Limiter,
		secret:     cfg.SigningSecret,
		logger:     cfg.Logger,
		version:    cfg.Version,
		maxBody:    cfg.MaxRequestBodyBytes,
		now:        time.Now,
	}

	// Outermost first: request id, tracing, logging, recovery.
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(chimiddleware.RealIP)
	r.Use(tracingMiddleware)
	r.Use(loggingMiddleware(cfg.Logger))
	r.Use(recoveryMiddleware(cfg.Logger))

	r.Get("/health", h.health)
	r.Route("/slack", func(r chi.Router) {
		r.Post("/events", h.slackEvents)
		r.Post("/interactions", h.slackInteractions)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: r,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
