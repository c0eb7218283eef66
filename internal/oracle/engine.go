// Package oracle runs collection cycles: it fans out to the configured
// sources, reconciles their quotes into a consensus price and analyzes
// their order books.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/priceoracle/internal/consensus"
	"github.com/alanyoungcy/priceoracle/internal/domain"
	"github.com/alanyoungcy/priceoracle/internal/liquidity"
)

// DefaultSourceTimeout bounds a single source call when the cycle config
// does not set one.
const DefaultSourceTimeout = 5 * time.Second

// SourceObserver is notified after every source call. err is nil on
// success. kind is "quote" or "book".
type SourceObserver interface {
	ObserveSource(sourceID, kind string, elapsed time.Duration, err error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock used for cycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides cycle id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithObserver registers a per-call source observer.
func WithObserver(o SourceObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine executes collection and book-analysis cycles.
type Engine struct {
	registry *Registry
	analyzer *liquidity.Analyzer
	observer SourceObserver
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	// bookMu serializes AnalyzeBooks so one cycle's trend writes finish
	// before the next cycle reads them.
	bookMu sync.Mutex
}

// NewEngine creates an Engine over the sources in registry. Trend state is
// kept in trends.
func NewEngine(registry *Registry, trends domain.TrendStore, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		analyzer: liquidity.NewAnalyzer(trends, logger),
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.With(slog.String("component", "oracle_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CollectOnce runs one consensus cycle. Every source failure is recorded
// in the result; the only error is domain.ErrInvalidConfig.
func (e *Engine) CollectOnce(ctx context.Context, cfg domain.CycleConfig) (domain.ConsensusResult, error) {
	if err := validateQuoteConfig(cfg); err != nil {
		return domain.ConsensusResult{}, err
	}
	start := e.now()
	ids := dedupe(cfg.Sources)

	quotes := make([]*domain.Quote, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			q, err := e.fetchQuote(ctx, cfg, id, start)
			if err != nil {
				errs[i] = err
				return nil
			}
			quotes[i] = &q
			return nil
		})
	}
	_ = g.Wait()

	var set domain.QuoteSet
	for i, id := range ids {
		if errs[i] != nil {
			set.Failures = append(set.Failures, domain.SourceFailure{SourceID: id, Reason: errs[i].Error()})
			continue
		}
		set.Quotes = append(set.Quotes, *quotes[i])
	}

	res := consensus.Reconcile(set, cfg.OutlierThresholdPct/100, precision(cfg))
	res.CycleID = e.newID()
	res.Pair = cfg.Pair
	res.AsOf = start.UnixMilli()

	attrs := []any{
		slog.String("cycle_id", res.CycleID),
		slog.Int("accepted", len(res.Accepted)),
		slog.Int("dropped", len(res.Dropped)),
		slog.Int("failed", len(res.Failures)),
		slog.Duration("elapsed", e.now().Sub(start)),
	}
	if res.MedianMid != nil {
		attrs = append(attrs, slog.Float64("median_mid", *res.MedianMid), slog.Float64("spread_bps", *res.SpreadMaxBps))
	}
	e.logger.InfoContext(ctx, "oracle: consensus cycle complete", attrs...)
	return res, nil
}

// AnalyzeBooks fetches every configured order book, computes its KPIs and
// trend deltas, and compares the usable books. Calls are serialized per
// engine. The only error is domain.ErrInvalidConfig.
func (e *Engine) AnalyzeBooks(ctx context.Context, cfg domain.CycleConfig) (domain.BookReport, error) {
	if err := validateBookConfig(cfg); err != nil {
		return domain.BookReport{}, err
	}
	e.bookMu.Lock()
	defer e.bookMu.Unlock()

	start := e.now()
	ids := dedupe(cfg.BookSources)

	snaps := make([]*domain.OrderbookSnapshot, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			snap, err := e.fetchBook(ctx, cfg, id)
			if err != nil {
				errs[i] = err
				return nil
			}
			snaps[i] = &snap
			return nil
		})
	}
	_ = g.Wait()

	report := domain.BookReport{
		CycleID:  e.newID(),
		Pair:     cfg.Pair,
		AsOf:     start.UnixMilli(),
		Books:    []domain.BookAnalysis{},
		Failures: []domain.SourceFailure{},
		Messages: []string{},
	}

	// Trend swaps run in configured order, once per source. A fetched book
	// always updates its trend slot, even when the caller has gone away.
	tctx := context.WithoutCancel(ctx)
	for i, id := range ids {
		if errs[i] != nil {
			f := domain.SourceFailure{SourceID: id, Reason: errs[i].Error()}
			report.Failures = append(report.Failures, f)
			report.Messages = append(report.Messages, f.String())
			continue
		}
		a, ok, err := e.analyzer.Analyze(tctx, *snaps[i])
		if !ok {
			report.Messages = append(report.Messages, fmt.Sprintf("%s: %v: book has an empty side", id, domain.ErrInsufficientData))
			continue
		}
		if err != nil {
			e.logger.WarnContext(ctx, "oracle: trend update failed",
				slog.String("source", id),
				slog.String("error", err.Error()),
			)
			report.Messages = append(report.Messages, fmt.Sprintf("%s: trend unavailable: %v", id, err))
		}
		report.Books = append(report.Books, a)
	}

	if cross, ok := liquidity.CompareMarkets(report.Books); ok {
		report.Cross = &cross
	}

	e.logger.InfoContext(ctx, "oracle: book cycle complete",
		slog.String("cycle_id", report.CycleID),
		slog.Int("books", len(report.Books)),
		slog.Int("failed", len(report.Failures)),
		slog.Duration("elapsed", e.now().Sub(start)),
	)
	return report, nil
}

func (e *Engine) fetchQuote(ctx context.Context, cfg domain.CycleConfig, id string, start time.Time) (q domain.Quote, err error) {
	src, ok := e.registry.Quote(id)
	if !ok {
		return domain.Quote{}, domain.ErrUnknownSource
	}
	began := e.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrSourceUnavailable, r)
		}
		e.observe(id, "quote", began, err)
	}()

	cctx, cancel := context.WithTimeout(ctx, timeout(cfg))
	defer cancel()

	raw, err := src.FetchQuote(cctx, cfg.Pair)
	if err != nil {
		return domain.Quote{}, sourceError(cctx, err)
	}
	return consensus.Normalize(raw, id, cfg.Pair, start)
}

func (e *Engine) fetchBook(ctx context.Context, cfg domain.CycleConfig, id string) (snap domain.OrderbookSnapshot, err error) {
	src, ok := e.registry.Book(id)
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrUnknownSource
	}
	began := e.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrSourceUnavailable, r)
		}
		e.observe(id, "book", began, err)
	}()

	cctx, cancel := context.WithTimeout(ctx, timeout(cfg))
	defer cancel()

	snap, err = src.FetchOrderbook(cctx, cfg.Pair, cfg.BookDepth)
	if err != nil {
		return domain.OrderbookSnapshot{}, sourceError(cctx, err)
	}
	snap.SourceID = id
	snap.Pair = cfg.Pair
	return snap, nil
}

func (e *Engine) observe(id, kind string, began time.Time, err error) {
	if e.observer != nil {
		e.observer.ObserveSource(id, kind, e.now().Sub(began), err)
	}
}

// sourceError makes sure every fetch failure matches ErrSourceUnavailable
// and reports timeouts explicitly.
func sourceError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	if errors.Is(err, domain.ErrSourceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
}

func validateQuoteConfig(cfg domain.CycleConfig) error {
	if cfg.Pair == "" {
		return fmt.Errorf("oracle: empty pair: %w", domain.ErrInvalidConfig)
	}
	if cfg.OutlierThresholdPct < domain.MinOutlierThresholdPct || cfg.OutlierThresholdPct > domain.MaxOutlierThresholdPct {
		return fmt.Errorf("oracle: outlier_threshold_pct %v outside [%v, %v]: %w",
			cfg.OutlierThresholdPct, domain.MinOutlierThresholdPct, domain.MaxOutlierThresholdPct, domain.ErrInvalidConfig)
	}
	return nil
}

func validateBookConfig(cfg domain.CycleConfig) error {
	if cfg.Pair == "" {
		return fmt.Errorf("oracle: empty pair: %w", domain.ErrInvalidConfig)
	}
	if cfg.BookDepth < domain.MinBookDepth || cfg.BookDepth > domain.MaxBookDepth {
		return fmt.Errorf("oracle: book_depth %d outside [%d, %d]: %w",
			cfg.BookDepth, domain.MinBookDepth, domain.MaxBookDepth, domain.ErrInvalidConfig)
	}
	return nil
}

func timeout(cfg domain.CycleConfig) time.Duration {
	if cfg.SourceTimeout > 0 {
		return cfg.SourceTimeout
	}
	return DefaultSourceTimeout
}

func precision(cfg domain.CycleConfig) int {
	if cfg.MessagePrecision > 0 {
		return cfg.MessagePrecision
	}
	return consensus.DefaultPrecision
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
