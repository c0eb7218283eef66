// Package liquidity derives liquidity-quality metrics from order book
// snapshots and compares them across markets.
package liquidity

import (
	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// ComputeKPIs derives the single-book metrics for snap. It returns false
// when either side of the book is empty, which is a normal condition for a
// thin market rather than an error.
func ComputeKPIs(snap domain.OrderbookSnapshot) (domain.BookKPIs, bool) {
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return domain.BookKPIs{}, false
	}

	bestBid := snap.Bids[0].Price
	var depthBuy float64
	for _, l := range snap.Bids {
		if l.Price > bestBid {
			bestBid = l.Price
		}
		depthBuy += l.Size
	}
	bestAsk := snap.Asks[0].Price
	var depthSell float64
	for _, l := range snap.Asks {
		if l.Price < bestAsk {
			bestAsk = l.Price
		}
		depthSell += l.Size
	}

	mid := (bestBid + bestAsk) / 2
	total := depthBuy + depthSell
	k := domain.BookKPIs{
		BestBid:    bestBid,
		BestAsk:    bestAsk,
		Mid:        mid,
		SpreadPct:  spreadPct(bestBid, bestAsk, mid),
		DepthBuy:   depthBuy,
		DepthSell:  depthSell,
		TotalDepth: total,
	}
	if total != 0 {
		k.Imbalance = (depthBuy - depthSell) / total
	}
	if k.SpreadPct > 0 {
		k.LiquidityIndex = domain.FiniteLiquidity(total / k.SpreadPct)
	} else {
		k.LiquidityIndex = domain.InfiniteLiquidity()
	}
	return k, true
}

func spreadPct(bid, ask, mid float64) float64 {
	if mid == 0 {
		return 0
	}
	return (ask - bid) / mid * 100
}
