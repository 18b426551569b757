package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fanclash/settlement/internal/domain"
	"github.com/fanclash/settlement/internal/server/handler"
	"github.com/fanclash/settlement/internal/server/middleware"
	"github.com/fanclash/settlement/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// the API-wide limiter; the stake path has its own per-user limit.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Duels   *handler.DuelHandler
	Claims  *handler.ClaimHandler
}

// Server is the HTTP + WebSocket API for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market lifecycle.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/lock", handlers.Markets.LockMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)

	// Stakes.
	mux.HandleFunc("POST /api/markets/{id}/stakes", handlers.Markets.PlaceStake)
	mux.HandleFunc("GET /api/markets/{id}/stakes", handlers.Markets.ListStakes)
	mux.HandleFunc("GET /api/markets/{id}/stakes/{user}", handlers.Markets.GetStake)

	// Duels.
	mux.HandleFunc("POST /api/duels", handlers.Duels.CreateDuel)
	mux.HandleFunc("GET /api/duels", handlers.Duels.ListDuels)
	mux.HandleFunc("GET /api/duels/{id}", handlers.Duels.GetDuel)
	mux.HandleFunc("POST /api/duels/{id}/join", handlers.Duels.JoinDuel)
	mux.HandleFunc("POST /api/duels/{id}/answers", handlers.Duels.SubmitAnswer)
	mux.HandleFunc("POST /api/duels/{id}/cancel", handlers.Duels.CancelDuel)

	// Claims and audit.
	mux.HandleFunc("POST /api/markets/{id}/claims", handlers.Claims.ClaimStake)
	mux.HandleFunc("POST /api/duels/{id}/claims", handlers.Claims.ClaimDuel)
	mux.HandleFunc("GET /api/audit", handlers.Claims.ListAudit)
	mux.HandleFunc("GET /api/audit/exports", handlers.Claims.ListExports)
	mux.HandleFunc("GET /api/audit/exports/{path...}", handlers.Claims.GetExport)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
