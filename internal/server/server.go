// Package server exposes the bot's read-only status API, a cancel-all
// control, Prometheus metrics and the dashboard WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cmibot/internal/server/handler"
	"github.com/alanyoungcy/cmibot/internal/server/middleware"
	"github.com/alanyoungcy/cmibot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Books    *handler.BookHandler
	Trades   *handler.TradeHandler
	Account  *handler.AccountHandler
	Strategy *handler.StrategyHandler
	Metrics  http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in auth, logging and
// CORS middleware. wsHub and handlers.Metrics may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Health.GetStatus)

	mux.HandleFunc("GET /api/products", handlers.Books.ListProducts)
	mux.HandleFunc("GET /api/books", handlers.Books.ListBooks)
	mux.HandleFunc("GET /api/books/{product}", handlers.Books.GetBook)

	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)

	mux.HandleFunc("GET /api/positions", handlers.Account.ListPositions)
	mux.HandleFunc("GET /api/pnl", handlers.Account.GetPnL)
	mux.HandleFunc("DELETE /api/orders", handlers.Account.CancelAll)

	mux.HandleFunc("GET /api/strategy", handlers.Strategy.ListStrategies)
	mux.HandleFunc("GET /api/strategy/quote", handlers.Strategy.GetQuote)
	mux.HandleFunc("GET /api/strategy/executions", handlers.Strategy.ListExecutions)

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
