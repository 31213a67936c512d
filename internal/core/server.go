// Package core is the HTTP chassis of the PraiaFinder API. It builds a chi
// router usable both behind a plain net/http server and inside AWS Lambda
// (API Gateway HTTP API events), and applies the cross-cutting middleware
// before requests reach the handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"praiafinder/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	// RecordRequest records one finished request. endpoint is the route
	// pattern, not the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds the dependencies shared by every route.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	HealthChecks []HealthCheck

	// V1RouteRegistrars mount the handler packages under /v1. main fills
	// this in so core does not import the handlers.
	V1RouteRegistrars []func(chi.Router)

	// Closers are released by Shutdown in order.
	Closers []func()

	router *chi.Mux
}

// NewServer builds a server. Routes are mounted separately by MountRoutes so
// tests can register their own.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases the resources registered in Closers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, c := range s.Closers {
		c()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
