package consensus

import (
	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Aggregate computes the consensus price and the maximum pairwise spread
// in basis points over the accepted quotes. Both are nil for an empty
// input; a single quote yields its own mid and a zero spread.
func Aggregate(accepted []domain.Quote) (median, spreadBps *float64) {
	switch len(accepted) {
	case 0:
		return nil, nil
	case 1:
		m, s := accepted[0].Mid, 0.0
		return &m, &s
	}

	values := mids(accepted)
	m, _ := Median(values)

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	var s float64
	if m != 0 {
		s = 10000 * (hi - lo) / m
	}
	return &m, &s
}
