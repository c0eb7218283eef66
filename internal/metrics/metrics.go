// Package metrics exposes Prometheus instrumentation for collection cycles.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Metrics holds every collector, registered on its own registry so tests
// and multiple instances do not collide.
type Metrics struct {
	reg *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	sourceFailures  *prometheus.CounterVec
	sourceLatency   *prometheus.HistogramVec
	outliers        *prometheus.CounterVec
	consensusPrice  *prometheus.GaugeVec
	consensusSpread *prometheus.GaugeVec
	bookSpread      *prometheus.GaugeVec
	bookImbalance   *prometheus.GaugeVec
	bookLiquidity   *prometheus.GaugeVec
}

// New creates and registers all collectors, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_cycles_total",
			Help: "Collection cycles by outcome (ok, degraded, skipped, error).",
		}, []string{"status"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "oracle_cycle_duration_seconds",
			Help:    "Wall time of a full collection cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		sourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_source_failures_total",
			Help: "Failed source calls by source and kind (quote, book).",
		}, []string{"source", "kind"}),
		sourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oracle_source_latency_seconds",
			Help:    "Latency of source calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source", "kind"}),
		outliers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_outliers_dropped_total",
			Help: "Quotes dropped by the outlier filter.",
		}, []string{"source"}),
		consensusPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oracle_consensus_price",
			Help: "Latest consensus median mid price.",
		}, []string{"pair"}),
		consensusSpread: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oracle_consensus_spread_bps",
			Help: "Latest max pairwise spread between accepted mids, in bps.",
		}, []string{"pair"}),
		bookSpread: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oracle_book_spread_pct",
			Help: "Latest single-book spread in percent of mid.",
		}, []string{"source"}),
		bookImbalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oracle_book_imbalance",
			Help: "Latest depth imbalance in [-1, 1].",
		}, []string{"source"}),
		bookLiquidity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oracle_book_liquidity_index",
			Help: "Latest liquidity index; +Inf for zero-spread books.",
		}, []string{"source"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveSource records one source call. It satisfies oracle.SourceObserver.
func (m *Metrics) ObserveSource(sourceID, kind string, elapsed time.Duration, err error) {
	m.sourceLatency.WithLabelValues(sourceID, kind).Observe(elapsed.Seconds())
	if err != nil && !errors.Is(err, domain.ErrUnknownSource) {
		m.sourceFailures.WithLabelValues(sourceID, kind).Inc()
	}
}

// ObserveCycle records a finished cycle's status and duration.
func (m *Metrics) ObserveCycle(status string, elapsed time.Duration) {
	m.cycles.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

// ObserveConsensus records the consensus price, spread and dropped quotes.
func (m *Metrics) ObserveConsensus(res domain.ConsensusResult) {
	for _, q := range res.Dropped {
		m.outliers.WithLabelValues(q.SourceID).Inc()
	}
	if res.MedianMid != nil {
		m.consensusPrice.WithLabelValues(res.Pair).Set(*res.MedianMid)
	}
	if res.SpreadMaxBps != nil {
		m.consensusSpread.WithLabelValues(res.Pair).Set(*res.SpreadMaxBps)
	}
}

// ObserveBooks records the latest KPIs per analyzed book.
func (m *Metrics) ObserveBooks(report domain.BookReport) {
	for _, b := range report.Books {
		m.bookSpread.WithLabelValues(b.SourceID).Set(b.KPIs.SpreadPct)
		m.bookImbalance.WithLabelValues(b.SourceID).Set(b.KPIs.Imbalance)
		m.bookLiquidity.WithLabelValues(b.SourceID).Set(b.KPIs.LiquidityIndex.Float64())
	}
}
