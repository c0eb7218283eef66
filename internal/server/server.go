// Package server exposes the oracle over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
	"github.com/alanyoungcy/priceoracle/internal/server/handler"
	"github.com/alanyoungcy/priceoracle/internal/server/middleware"
	"github.com/alanyoungcy/priceoracle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers
	// identify the client for rate limiting.
	TrustedProxies []string
}

// Handlers aggregates the endpoint handlers. Archive, Audit and Metrics may
// be nil when object storage, postgres or metrics are not configured.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Consensus *handler.ConsensusHandler
	History   *handler.HistoryHandler
	Archive   *handler.ArchiveHandler
	Audit     *handler.AuditHandler
	Metrics   http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain:
// CORS, logging, rate limiting, then auth.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/consensus/latest", handlers.Consensus.Latest)
	mux.HandleFunc("GET /api/books/latest", handlers.Consensus.LatestBooks)
	mux.HandleFunc("POST /api/cycle", handlers.Consensus.Trigger)

	mux.HandleFunc("GET /api/history", handlers.History.List)
	mux.HandleFunc("GET /api/history.csv", handlers.History.CSV)
	mux.HandleFunc("GET /api/books/{source}/history", handlers.History.BookHistory)
	mux.HandleFunc("GET /api/events", handlers.History.Events)

	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archive.List)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archive.Get)
	}
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			logger.Warn("http: ignoring invalid trusted proxies", slog.String("error", err.Error()))
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, trusted, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
