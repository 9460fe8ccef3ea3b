package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mselser95/p2p-wager/pkg/healthprobe"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides HTTP endpoints for metrics, health checks, bet inspection
// and the operator's negotiation steps.
type Server struct {
	server        *http.Server
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
}

// Config holds server configuration.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker
	Services      ServiceReporter // optional
	Bets          BetInspector    // optional
	Negotiator    Negotiator      // optional

	// RequestTimeout bounds one request; commitments wait for a receipt.
	// Defaults to 30s.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 30 * time.Second

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Server{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           newRouter(cfg, timeout),
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      timeout + 5*time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
	}
}

func newRouter(cfg *Config, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	// Routes
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	if cfg.Services != nil {
		r.Get("/services", NewServicesHandler(cfg.Services, cfg.Logger).HandleServices)
	}

	if cfg.Bets != nil {
		betHandler := NewBetHandler(cfg.Bets, cfg.Logger)
		r.Get("/api/bets/{id}", betHandler.HandleBet)
		r.Get("/api/disputes", betHandler.HandleDisputes)
	}

	if cfg.Negotiator != nil {
		negotiationHandler := NewNegotiationHandler(cfg.Negotiator, cfg.Logger)
		r.Post("/api/proposals", negotiationHandler.HandlePropose)
		r.Get("/api/offers", negotiationHandler.HandleOffers)
		r.Post("/api/offers/{hash}/accept", negotiationHandler.HandleAccept)
		r.Post("/api/commitments", negotiationHandler.HandleCommit)
	}

	return r
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}
