package liquidity

import (
	"sort"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// CompareMarkets finds the best bid and best ask across books and ranks
// them by liquidity. It returns false with fewer than two books. Price ties
// go to the lexically smaller source id so the result does not depend on
// input order.
func CompareMarkets(books []domain.BookAnalysis) (domain.CrossMarketSummary, bool) {
	if len(books) < 2 {
		return domain.CrossMarketSummary{}, false
	}

	bid, ask := books[0], books[0]
	for _, b := range books[1:] {
		if b.KPIs.BestBid > bid.KPIs.BestBid ||
			(b.KPIs.BestBid == bid.KPIs.BestBid && b.SourceID < bid.SourceID) {
			bid = b
		}
		if b.KPIs.BestAsk < ask.KPIs.BestAsk ||
			(b.KPIs.BestAsk == ask.KPIs.BestAsk && b.SourceID < ask.SourceID) {
			ask = b
		}
	}

	mid := (bid.KPIs.BestBid + ask.KPIs.BestAsk) / 2
	return domain.CrossMarketSummary{
		BestBidSource:    bid.SourceID,
		BestBid:          bid.KPIs.BestBid,
		BestAskSource:    ask.SourceID,
		BestAsk:          ask.KPIs.BestAsk,
		CrossMid:         mid,
		CrossSpreadPct:   spreadPct(bid.KPIs.BestBid, ask.KPIs.BestAsk, mid),
		LiquidityRanking: RankLiquidity(books),
	}, true
}

// RankLiquidity returns source ids by descending liquidity index. Infinite
// indices come first; ties are ordered by source id.
func RankLiquidity(books []domain.BookAnalysis) []string {
	sorted := append([]domain.BookAnalysis(nil), books...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].KPIs.LiquidityIndex.Compare(sorted[j].KPIs.LiquidityIndex); c != 0 {
			return c > 0
		}
		return sorted[i].SourceID < sorted[j].SourceID
	})
	out := make([]string, len(sorted))
	for i, b := range sorted {
		out[i] = b.SourceID
	}
	return out
}
