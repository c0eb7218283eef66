package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is a depth-limited view of one venue's book. Bids are
// ordered by strictly decreasing price, asks by strictly increasing price.
type OrderbookSnapshot struct {
	SourceID  string
	Pair      string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BookKPIs are the liquidity metrics derived from one snapshot.
type BookKPIs struct {
	BestBid        float64        `json:"best_bid"`
	BestAsk        float64        `json:"best_ask"`
	Mid            float64        `json:"mid"`
	SpreadPct      float64        `json:"spread_pct"`
	DepthBuy       float64        `json:"depth_buy"`
	DepthSell      float64        `json:"depth_sell"`
	TotalDepth     float64        `json:"total_depth"`
	Imbalance      float64        `json:"imbalance"`
	LiquidityIndex LiquidityIndex `json:"liquidity_index"`
}

// TrendPoint is the per-source state carried from one cycle to the next.
type TrendPoint struct {
	Mid        float64 `json:"mid"`
	Imbalance  float64 `json:"imbalance"`
	TotalDepth float64 `json:"total_depth"`
}

// Point extracts the trend-relevant subset of the KPIs.
func (k BookKPIs) Point() TrendPoint {
	return TrendPoint{Mid: k.Mid, Imbalance: k.Imbalance, TotalDepth: k.TotalDepth}
}

// TrendDelta is the change of a source's KPIs since its previous cycle.
// All values are zero on a source's first observation.
type TrendDelta struct {
	Mid              float64 `json:"delta_mid"`
	Imbalance        float64 `json:"delta_imbalance"`
	TotalDepth       float64 `json:"delta_total_depth"`
	FirstObservation bool    `json:"first_observation"`
}

// BookAnalysis is the analyzer output for one source in one cycle.
type BookAnalysis struct {
	SourceID string     `json:"source_id"`
	KPIs     BookKPIs   `json:"kpis"`
	Delta    TrendDelta `json:"delta"`
}

// CrossMarketSummary compares the best prices across all analyzed books.
type CrossMarketSummary struct {
	BestBidSource    string   `json:"best_bid_source"`
	BestBid          float64  `json:"best_bid"`
	BestAskSource    string   `json:"best_ask_source"`
	BestAsk          float64  `json:"best_ask"`
	CrossMid         float64  `json:"cross_mid"`
	CrossSpreadPct   float64  `json:"cross_spread_pct"`
	LiquidityRanking []string `json:"liquidity_ranking"`
}

// BookReport is the liquidity-quality output of one cycle. Cross is nil
// when fewer than two books were usable.
type BookReport struct {
	CycleID  string              `json:"cycle_id"`
	Pair     string              `json:"pair"`
	AsOf     int64               `json:"as_of"`
	Books    []BookAnalysis      `json:"books"`
	Cross    *CrossMarketSummary `json:"cross"`
	Failures []SourceFailure     `json:"failures"`
	Messages []string            `json:"messages"`
}
