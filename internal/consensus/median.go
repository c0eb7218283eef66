package consensus

import (
	"sort"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Median returns the standard median of values: the middle element for an
// odd count, the mean of the two middle elements for an even count. The
// input is not modified. ok is false for an empty slice.
func Median(values []float64) (median float64, ok bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2], true
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, true
}

func mids(quotes []domain.Quote) []float64 {
	out := make([]float64, len(quotes))
	for i, q := range quotes {
		out[i] = q.Mid
	}
	return out
}
