// Package pipeline runs the background jobs of the oracle: the cycle loop
// and the scheduled archival of cycle history to cold storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
	"github.com/alanyoungcy/priceoracle/internal/notify"
)

// CyclePruner deletes cycle rows that have been archived.
type CyclePruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Alerter delivers operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Archiver moves cycle history older than the retention window to cold
// storage and then prunes it from the database.
type Archiver struct {
	blobArchiver  domain.Archiver
	pruner        CyclePruner
	alerts        Alerter
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. alerts may be nil.
func NewArchiver(blobArchiver domain.Archiver, pruner CyclePruner, alerts Alerter, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		pruner:        pruner,
		alerts:        alerts,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes one archive run. Rows are deleted only after the upload
// succeeded, so a failed run leaves the database untouched.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Truncate(time.Hour).Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "pipeline: archive run starting",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveCycles(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive cycles before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if archived == 0 {
		a.logger.InfoContext(ctx, "pipeline: nothing to archive")
		return nil
	}

	deleted, err := a.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: prune cycles before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "pipeline: archive run complete",
		slog.Int64("archived", archived),
		slog.Int64("deleted", deleted),
	)

	if a.alerts != nil {
		alert := notify.ArchiveAlert(archived, cutoff)
		if err := a.alerts.Notify(ctx, alert.Event, alert.Title, alert.Message); err != nil {
			a.logger.WarnContext(ctx, "pipeline: archive alert failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// RunCron runs the archiver on schedule until ctx is cancelled. Failed
// runs are logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := ParseSchedule(cronExpr)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "pipeline: archiver cron started", slog.String("cron", sched.String()))

	for {
		next, err := sched.Next(a.now().UTC())
		if err != nil {
			return err
		}
		wait := next.Sub(a.now())
		a.logger.DebugContext(ctx, "pipeline: archiver waiting",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "pipeline: archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "pipeline: archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
