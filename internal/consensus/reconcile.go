package consensus

import (
	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Reconcile runs Filter and Aggregate over a cycle's quote set. The
// returned result carries no cycle identity; the caller stamps CycleID,
// Pair and AsOf. Collection failures are reported first in Messages,
// followed by the outlier diagnostic if any quotes were dropped.
func Reconcile(set domain.QuoteSet, threshold float64, precision int) domain.ConsensusResult {
	fr := Filter(set.Quotes, threshold, precision)
	median, spread := Aggregate(fr.Kept)

	res := domain.ConsensusResult{
		Accepted:          nonNil(fr.Kept),
		Dropped:           nonNil(fr.Dropped),
		ProvisionalMedian: fr.ProvisionalMedian,
		MedianMid:         median,
		SpreadMaxBps:      spread,
		Failures:          append([]domain.SourceFailure{}, set.Failures...),
		Messages:          make([]string, 0, len(set.Failures)+1),
	}
	for _, f := range set.Failures {
		res.Messages = append(res.Messages, f.String())
	}
	if fr.Message != "" {
		res.Messages = append(res.Messages, fr.Message)
	}
	return res
}

func nonNil(qs []domain.Quote) []domain.Quote {
	if qs == nil {
		return []domain.Quote{}
	}
	return qs
}
