package liquidity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Analyzer computes book KPIs and the change since each source's previous
// observation. Trend state lives in the injected TrendStore.
type Analyzer struct {
	trends domain.TrendStore
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer backed by trends.
func NewAnalyzer(trends domain.TrendStore, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		trends: trends,
		logger: logger.With(slog.String("component", "liquidity_analyzer")),
	}
}

// Analyze computes the KPIs of snap and swaps them into the trend store.
// ok is false when the book has an empty side; the store is not touched in
// that case. On a store error the analysis is still returned with zero
// deltas so the caller can decide whether to keep it.
func (a *Analyzer) Analyze(ctx context.Context, snap domain.OrderbookSnapshot) (analysis domain.BookAnalysis, ok bool, err error) {
	kpis, ok := ComputeKPIs(snap)
	if !ok {
		return domain.BookAnalysis{}, false, nil
	}
	analysis = domain.BookAnalysis{SourceID: snap.SourceID, KPIs: kpis}

	prev, found, err := a.trends.Swap(ctx, snap.SourceID, kpis.Point())
	if err != nil {
		return analysis, true, fmt.Errorf("liquidity: trend swap %s: %w", snap.SourceID, err)
	}
	if !found {
		analysis.Delta.FirstObservation = true
		a.logger.DebugContext(ctx, "first observation", slog.String("source", snap.SourceID))
		return analysis, true, nil
	}
	analysis.Delta.Mid = kpis.Mid - prev.Mid
	analysis.Delta.Imbalance = kpis.Imbalance - prev.Imbalance
	analysis.Delta.TotalDepth = kpis.TotalDepth - prev.TotalDepth
	return analysis, true, nil
}
