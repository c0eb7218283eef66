package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// CycleLoop is the periodic collection loop.
type CycleLoop interface {
	Run(ctx context.Context, interval time.Duration) error
}

// Orchestrator runs the cycle loop and, when configured, the archiver
// cron side by side.
type Orchestrator struct {
	cycles      CycleLoop
	interval    time.Duration
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil.
func NewOrchestrator(cycles CycleLoop, interval time.Duration, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cycles:      cycles,
		interval:    interval,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
}

// Run blocks until ctx is cancelled or a job fails. Cancellation is a
// clean shutdown and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline: orchestrator starting",
		slog.Duration("interval", o.interval),
		slog.Bool("archiver", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.cycles.Run(ctx, o.interval)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline: cycle loop: %w", err)
		}
		return nil
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline: archiver: %w", err)
		})
	}

	err := g.Wait()
	o.logger.InfoContext(ctx, "pipeline: orchestrator stopped")
	return err
}
