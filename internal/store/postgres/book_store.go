package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// BookStore implements domain.BookStore using PostgreSQL.
type BookStore struct {
	pool *pgxpool.Pool
}

// NewBookStore creates a new BookStore backed by the given connection pool.
func NewBookStore(pool *pgxpool.Pool) *BookStore {
	return &BookStore{pool: pool}
}

// InsertReport stores every analyzed book of a report and its cross-market
// summary in one transaction.
func (s *BookStore) InsertReport(ctx context.Context, report domain.BookReport) error {
	asOf := time.UnixMilli(report.AsOf).UTC()

	batch := &pgx.Batch{}
	for _, b := range report.Books {
		var li *float64
		if !b.KPIs.LiquidityIndex.Infinite {
			v := b.KPIs.LiquidityIndex.Value
			li = &v
		}
		batch.Queue(`INSERT INTO book_analyses (
				cycle_id, source_id, pair, as_of, best_bid, best_ask, mid, spread_pct,
				depth_buy, depth_sell, imbalance, liquidity_index, liquidity_infinite,
				delta_mid, delta_imbalance, delta_total_depth, first_observation)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (cycle_id, source_id) DO NOTHING`,
			report.CycleID, b.SourceID, report.Pair, asOf,
			b.KPIs.BestBid, b.KPIs.BestAsk, b.KPIs.Mid, b.KPIs.SpreadPct,
			b.KPIs.DepthBuy, b.KPIs.DepthSell, b.KPIs.Imbalance, li, b.KPIs.LiquidityIndex.Infinite,
			b.Delta.Mid, b.Delta.Imbalance, b.Delta.TotalDepth, b.Delta.FirstObservation,
		)
	}
	if c := report.Cross; c != nil {
		ranking, err := json.Marshal(c.LiquidityRanking)
		if err != nil {
			return fmt.Errorf("postgres: marshal ranking %s: %w", report.CycleID, err)
		}
		batch.Queue(`INSERT INTO cross_market_summaries (
				cycle_id, pair, as_of, best_bid_source, best_bid, best_ask_source, best_ask,
				cross_mid, cross_spread_pct, liquidity_ranking)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (cycle_id) DO NOTHING`,
			report.CycleID, report.Pair, asOf, c.BestBidSource, c.BestBid, c.BestAskSource, c.BestAsk,
			c.CrossMid, c.CrossSpreadPct, ranking,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin book report %s: %w", report.CycleID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert book report %s: %w", report.CycleID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit book report %s: %w", report.CycleID, err)
	}
	return nil
}

// ListBySource returns a source's analyses newest first.
func (s *BookStore) ListBySource(ctx context.Context, sourceID string, opts domain.ListOpts) ([]domain.BookRecord, error) {
	query, args := listClause(`SELECT cycle_id, pair, as_of, source_id, best_bid, best_ask, mid,
			spread_pct, depth_buy, depth_sell, imbalance, liquidity_index, liquidity_infinite,
			delta_mid, delta_imbalance, delta_total_depth, first_observation
		FROM book_analyses WHERE source_id = $1`, []any{sourceID}, "as_of", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list books %s: %w", sourceID, err)
	}
	defer rows.Close()

	var out []domain.BookRecord
	for rows.Next() {
		var r domain.BookRecord
		k := &r.Analysis.KPIs
		d := &r.Analysis.Delta
		var li *float64
		var infinite bool
		if err := rows.Scan(&r.CycleID, &r.Pair, &r.AsOf, &r.Analysis.SourceID,
			&k.BestBid, &k.BestAsk, &k.Mid, &k.SpreadPct, &k.DepthBuy, &k.DepthSell, &k.Imbalance,
			&li, &infinite, &d.Mid, &d.Imbalance, &d.TotalDepth, &d.FirstObservation,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan book: %w", err)
		}
		k.TotalDepth = k.DepthBuy + k.DepthSell
		switch {
		case infinite:
			k.LiquidityIndex = domain.InfiniteLiquidity()
		case li != nil:
			k.LiquidityIndex = domain.FiniteLiquidity(*li)
		}
		r.AsOf = r.AsOf.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list books rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.BookStore = (*BookStore)(nil)
