package consensus

import (
	"math"
	"strconv"
	"strings"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// DefaultPrecision is the number of decimals used in diagnostic messages.
const DefaultPrecision = 6

// FilterResult is the partition produced by Filter. Kept and Dropped keep
// the relative order of the input.
type FilterResult struct {
	Kept              []domain.Quote
	Dropped           []domain.Quote
	ProvisionalMedian *float64
	Message           string
}

// Filter drops quotes whose mid deviates from the provisional median of all
// mids by more than threshold (a fraction, 0.05 = 5%).
//
// With fewer than two quotes nothing is compared and everything is kept.
// A zero provisional median makes every deviation zero. If every quote
// would be dropped the partition is reverted and all quotes are kept
// without a message.
func Filter(quotes []domain.Quote, threshold float64, precision int) FilterResult {
	if precision < 0 {
		precision = DefaultPrecision
	}
	if len(quotes) < 2 {
		return FilterResult{Kept: append([]domain.Quote(nil), quotes...)}
	}

	pm, _ := Median(mids(quotes))
	res := FilterResult{ProvisionalMedian: &pm}

	for _, q := range quotes {
		if deviation(q.Mid, pm) > threshold {
			res.Dropped = append(res.Dropped, q)
		} else {
			res.Kept = append(res.Kept, q)
		}
	}

	if len(res.Kept) == 0 {
		res.Kept = append([]domain.Quote(nil), quotes...)
		res.Dropped = nil
		return res
	}
	if len(res.Dropped) > 0 {
		res.Message = outlierMessage(res.Dropped, pm, precision)
	}
	return res
}

func deviation(mid, pm float64) float64 {
	if pm == 0 {
		return 0
	}
	return math.Abs(mid-pm) / pm
}

func outlierMessage(dropped []domain.Quote, pm float64, precision int) string {
	var b strings.Builder
	b.WriteString("outliers dropped vs provisional median ")
	b.WriteString(strconv.FormatFloat(pm, 'f', precision, 64))
	b.WriteString(": ")
	for i, q := range dropped {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(q.SourceID)
		b.WriteString(" mid=")
		b.WriteString(strconv.FormatFloat(q.Mid, 'f', precision, 64))
	}
	return b.String()
}
