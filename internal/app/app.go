// Package app runs the price oracle: Wire builds the collaborators from
// config and each mode decides which loops and servers to start.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/config"
)

// modeFunc is one run mode; it blocks until done or ctx is cancelled.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"once":   (*App).OnceMode,
	"poll":   (*App).PollMode,
	"server": (*App).ServerMode,
	"full":   (*App).FullMode,
}

// App owns the config, the logger and the teardown of whatever Run wired.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	mu      sync.Mutex
	cleanup func()
}

// New creates an App. The once mode writes to stdout unless SetOutput
// says otherwise.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    os.Stdout,
	}
}

// SetOutput redirects the JSON written by the once mode.
func (a *App) SetOutput(w io.Writer) { a.out = w }

// Run wires the backends and blocks in the configured mode.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	start := time.Now()
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.mu.Lock()
	a.cleanup = cleanup
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "app: started",
		slog.String("mode", a.cfg.Mode),
		slog.String("pair", a.cfg.Oracle.Pair),
		slog.Any("quote_sources", deps.Registry.QuoteIDs()),
		slog.Any("backends", slices.Sorted(maps.Keys(deps.HealthChecks))),
		slog.Duration("wire_time", time.Since(start)),
	)
	return run(a, ctx, deps)
}

// Close releases everything Run wired. Calling it again is a no-op.
func (a *App) Close() {
	a.mu.Lock()
	cleanup := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()

	if cleanup != nil {
		a.logger.Info("app: closing backends")
		cleanup()
	}
}
