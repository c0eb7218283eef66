package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/priceoracle/internal/pipeline"
	"github.com/alanyoungcy/priceoracle/internal/server"
	"github.com/alanyoungcy/priceoracle/internal/server/handler"
	"github.com/alanyoungcy/priceoracle/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// OnceMode runs a single cycle and writes its outcome as JSON. A degraded
// cycle still succeeds; only a cycle that could not run returns an error.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	out, err := deps.Oracle.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("app: once: %w", err)
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("app: once: encode outcome: %w", err)
	}
	return nil
}

// PollMode runs the cycle loop and, when enabled, the archive cron.
func (a *App) PollMode(ctx context.Context, deps *Dependencies) error {
	return a.orchestrator(deps).Run(ctx)
}

// ServerMode serves the HTTP API and WebSocket hub. Cycles run only when
// triggered through POST /api/cycle.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)
	a.startHTTPServer(gctx, g, deps)
	return a.wait(g)
}

// FullMode runs the cycle loop, the archiver and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)
	orch := a.orchestrator(deps)
	g.Go(func() error { return orch.Run(gctx) })
	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps)
	}
	return a.wait(g)
}

func (a *App) wait(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) orchestrator(deps *Dependencies) *pipeline.Orchestrator {
	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled {
		if deps.Archiver == nil || deps.CycleStore == nil {
			a.logger.Warn("app: archive enabled but s3 or postgres not wired, archiver disabled")
		} else {
			archiver = pipeline.NewArchiver(deps.Archiver, deps.CycleStore, deps.Notifier, a.cfg.Archive.RetentionDays, a.logger)
		}
	}
	return pipeline.NewOrchestrator(deps.Oracle, a.cfg.Oracle.CycleInterval.Duration, archiver, a.cfg.Archive.Cron, a.logger)
}

// startHTTPServer registers the hub and the HTTP server with g. Both stop
// when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()
	pair := a.cfg.Oracle.Pair

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:           a.cfg.Mode,
		Pair:           pair,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      startedAt,
	}, a.logger)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, deps.Oracle.Config(), startedAt),
		Consensus: handler.NewConsensusHandler(deps.Oracle, deps.PriceCache, pair, a.logger),
		History:   handler.NewHistoryHandler(deps.Oracle, deps.BookStore, deps.SignalBus, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}
	if deps.AuditLog != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditLog, a.logger)
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,

		TrustedProxies: a.cfg.Server.TrustedProxies,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: ws hub: %w", err)
		}
		return nil
	})

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("app: HTTP server shutting down", slog.Int("port", a.cfg.Server.Port))
		return srv.Shutdown(shutCtx)
	})
}
