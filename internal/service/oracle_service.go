// Package service coordinates collection cycles with the stores, caches,
// bus and alerting that record their results.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/priceoracle/internal/domain"
	"github.com/alanyoungcy/priceoracle/internal/notify"
)

const (
	defaultLockTTL = 30 * time.Second
	historyCap     = 512
)

// CycleEngine runs the consensus and book halves of a cycle.
type CycleEngine interface {
	CollectOnce(ctx context.Context, cfg domain.CycleConfig) (domain.ConsensusResult, error)
	AnalyzeBooks(ctx context.Context, cfg domain.CycleConfig) (domain.BookReport, error)
}

// CycleMetrics records cycle outcomes.
type CycleMetrics interface {
	ObserveCycle(status string, elapsed time.Duration)
	ObserveConsensus(res domain.ConsensusResult)
	ObserveBooks(report domain.BookReport)
}

// Alerter delivers operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OracleConfig holds the per-deployment cycle settings.
type OracleConfig struct {
	Cycle          domain.CycleConfig
	LockTTL        time.Duration
	SpreadAlertBps float64
}

// OracleDeps are the collaborators of OracleService. Engine and Locks are
// required; every other sink is optional.
type OracleDeps struct {
	Engine  CycleEngine
	Locks   domain.LockManager
	Cycles  domain.CycleStore
	Books   domain.BookStore
	Audit   domain.AuditStore
	Prices  domain.PriceCache
	Bus     domain.SignalBus
	Metrics CycleMetrics
	Alerts  Alerter
}

// OracleService runs collection cycles and fans their results out to the
// configured sinks. Sink failures are logged and never fail a cycle.
type OracleService struct {
	cfg    OracleConfig
	deps   OracleDeps
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	latest  *domain.CycleOutcome
	history []domain.CycleRecord
}

// NewOracleService creates an OracleService.
func NewOracleService(cfg OracleConfig, deps OracleDeps, logger *slog.Logger) *OracleService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &OracleService{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: logger.With(slog.String("component", "oracle_service")),
	}
}

// Config returns the cycle configuration.
func (s *OracleService) Config() domain.CycleConfig { return s.cfg.Cycle }

// RunCycle runs one consensus cycle and, when book sources are configured,
// one book cycle concurrently, under the pair's cycle lock. A held lock
// returns domain.ErrLockHeld with a skipped outcome.
func (s *OracleService) RunCycle(ctx context.Context) (domain.CycleOutcome, error) {
	start := s.now()
	cfg := s.cfg.Cycle

	unlock, err := s.deps.Locks.Acquire(ctx, "cycle:"+cfg.Pair, s.cfg.LockTTL)
	if err != nil {
		status := domain.CycleError
		if errors.Is(err, domain.ErrLockHeld) {
			status = domain.CycleSkipped
			s.logger.InfoContext(ctx, "oracle_service: cycle skipped, lock held", slog.String("pair", cfg.Pair))
		}
		s.observeCycle(status, s.now().Sub(start))
		return domain.CycleOutcome{Status: status}, fmt.Errorf("oracle_service: acquire cycle lock: %w", err)
	}
	defer unlock()

	// Per-source timeouts bound the cycle once the lock is held; a caller
	// that goes away must not leave trend slots or sinks half-updated.
	ctx = context.WithoutCancel(ctx)

	var (
		res    domain.ConsensusResult
		report domain.BookReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = s.deps.Engine.CollectOnce(gctx, cfg)
		return err
	})
	withBooks := len(cfg.BookSources) > 0
	if withBooks {
		g.Go(func() error {
			var err error
			report, err = s.deps.Engine.AnalyzeBooks(gctx, cfg)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.observeCycle(domain.CycleError, s.now().Sub(start))
		return domain.CycleOutcome{Status: domain.CycleError}, fmt.Errorf("oracle_service: run cycle: %w", err)
	}

	out := domain.CycleOutcome{Consensus: res}
	if withBooks {
		report.CycleID = res.CycleID
		out.Books = &report
	}
	out.Status = s.status(res)

	s.record(ctx, out)
	out.Elapsed = s.now().Sub(start)
	s.observeCycle(out.Status, out.Elapsed)
	s.remember(out)

	s.logger.InfoContext(ctx, "oracle_service: cycle recorded",
		slog.String("cycle_id", res.CycleID),
		slog.String("status", out.Status),
		slog.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

// status classifies a cycle. Anything short of every source agreeing
// within the alert spread counts as degraded.
func (s *OracleService) status(res domain.ConsensusResult) string {
	switch {
	case len(res.Accepted) == 0, len(res.Dropped) > 0, len(res.Failures) > 0:
		return domain.CycleDegraded
	case s.cfg.SpreadAlertBps > 0 && res.SpreadMaxBps != nil && *res.SpreadMaxBps > s.cfg.SpreadAlertBps:
		return domain.CycleDegraded
	}
	return domain.CycleOK
}

func (s *OracleService) record(ctx context.Context, out domain.CycleOutcome) {
	res := out.Consensus

	if s.deps.Cycles != nil {
		if err := s.deps.Cycles.Insert(ctx, domain.NewCycleRecord(res)); err != nil {
			s.warn(ctx, "store cycle", res.CycleID, err)
		}
	}
	if out.Books != nil && s.deps.Books != nil {
		if err := s.deps.Books.InsertReport(ctx, *out.Books); err != nil {
			s.warn(ctx, "store book report", res.CycleID, err)
		}
	}
	if res.MedianMid != nil && s.deps.Prices != nil {
		err := s.deps.Prices.SetConsensus(ctx, res.Pair, *res.MedianMid, *res.SpreadMaxBps, time.UnixMilli(res.AsOf))
		if err != nil {
			s.warn(ctx, "cache consensus", res.CycleID, err)
		}
	}
	s.publish(ctx, out)

	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveConsensus(res)
		if out.Books != nil {
			s.deps.Metrics.ObserveBooks(*out.Books)
		}
	}

	if out.Status != domain.CycleDegraded {
		return
	}
	if s.deps.Audit != nil {
		rec := domain.NewCycleRecord(res)
		err := s.deps.Audit.Log(ctx, "cycle.degraded", map[string]any{
			"cycle_id": res.CycleID,
			"pair":     res.Pair,
			"accepted": rec.Accepted,
			"dropped":  rec.Dropped,
			"failed":   rec.Failed,
			"messages": rec.Messages,
		})
		if err != nil {
			s.warn(ctx, "audit degraded cycle", res.CycleID, err)
		}
	}
	if s.deps.Alerts != nil {
		for _, a := range notify.CycleAlerts(res, s.cfg.SpreadAlertBps) {
			if err := s.deps.Alerts.Notify(ctx, a.Event, a.Title, a.Message); err != nil {
				s.warn(ctx, "notify "+a.Event, res.CycleID, err)
			}
		}
	}
}

func (s *OracleService) publish(ctx context.Context, out domain.CycleOutcome) {
	if s.deps.Bus == nil {
		return
	}
	res := out.Consensus

	payload, err := json.Marshal(res)
	if err != nil {
		s.warn(ctx, "marshal consensus", res.CycleID, err)
		return
	}
	if err := s.deps.Bus.Publish(ctx, domain.ChannelConsensus, payload); err != nil {
		s.warn(ctx, "publish consensus", res.CycleID, err)
	}
	if err := s.deps.Bus.StreamAppend(ctx, domain.StreamCycles, payload); err != nil {
		s.warn(ctx, "append cycle stream", res.CycleID, err)
	}

	if out.Books != nil {
		if books, err := json.Marshal(out.Books); err == nil {
			if err := s.deps.Bus.Publish(ctx, domain.ChannelBooks, books); err != nil {
				s.warn(ctx, "publish books", res.CycleID, err)
			}
		}
	}

	status, _ := json.Marshal(map[string]any{
		"cycle_id": res.CycleID,
		"pair":     res.Pair,
		"as_of":    res.AsOf,
		"status":   out.Status,
	})
	if err := s.deps.Bus.Publish(ctx, domain.ChannelStatus, status); err != nil {
		s.warn(ctx, "publish status", res.CycleID, err)
	}
}

func (s *OracleService) warn(ctx context.Context, op, cycleID string, err error) {
	s.logger.WarnContext(ctx, "oracle_service: "+op+" failed",
		slog.String("cycle_id", cycleID),
		slog.String("error", err.Error()),
	)
}

func (s *OracleService) observeCycle(status string, elapsed time.Duration) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveCycle(status, elapsed)
	}
}

func (s *OracleService) remember(out domain.CycleOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &out
	s.history = append(s.history, domain.NewCycleRecord(out.Consensus))
	if len(s.history) > historyCap {
		s.history = append([]domain.CycleRecord(nil), s.history[len(s.history)-historyCap:]...)
	}
}

// Latest returns the most recent recorded cycle of this process.
func (s *OracleService) Latest() (domain.CycleOutcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return domain.CycleOutcome{}, false
	}
	return *s.latest, true
}

// History lists cycle summaries newest first. It reads the cycle store
// when one is configured and the in-process history otherwise.
func (s *OracleService) History(ctx context.Context, opts domain.ListOpts) ([]domain.CycleRecord, error) {
	if s.deps.Cycles != nil {
		recs, err := s.deps.Cycles.ListRecent(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("oracle_service: list history: %w", err)
		}
		return recs, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CycleRecord, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		rec := s.history[i]
		if opts.Since != nil && rec.AsOf.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !rec.AsOf.Before(*opts.Until) {
			continue
		}
		out = append(out, rec)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []domain.CycleRecord{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Run executes a cycle immediately and then every interval until ctx is
// cancelled. Failed cycles are logged and the loop continues.
func (s *OracleService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("oracle_service: non-positive cycle interval %s", interval)
	}
	s.logger.InfoContext(ctx, "oracle_service: cycle loop started",
		slog.String("pair", s.cfg.Cycle.Pair),
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "oracle_service: cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "oracle_service: cycle loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}
