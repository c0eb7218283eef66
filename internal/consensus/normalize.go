// Package consensus turns a cycle's raw quotes into a single reference
// price: normalization, provisional-median outlier filtering and final
// median/spread aggregation. Everything here is pure and deterministic.
package consensus

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Normalize converts a raw quote into a canonical Quote. The mid is always
// recomputed from bid and ask. A missing upstream timestamp falls back to
// the cycle start. sourceID and pair are taken from configuration, not
// from the payload.
func Normalize(raw domain.RawQuote, sourceID, pair string, cycleStart time.Time) (domain.Quote, error) {
	if !positive(raw.Bid) || !positive(raw.Ask) {
		return domain.Quote{}, fmt.Errorf("%w: bid=%v ask=%v", domain.ErrInvalidQuote, raw.Bid, raw.Ask)
	}
	if math.IsNaN(raw.Last) || math.IsInf(raw.Last, 0) || raw.Last < 0 {
		return domain.Quote{}, fmt.Errorf("%w: last=%v", domain.ErrInvalidQuote, raw.Last)
	}

	ts := raw.Timestamp
	if ts <= 0 {
		ts = cycleStart.UnixMilli()
	}

	return domain.Quote{
		SourceID:  sourceID,
		Pair:      pair,
		Last:      raw.Last,
		Bid:       raw.Bid,
		Ask:       raw.Ask,
		Mid:       (raw.Bid + raw.Ask) / 2,
		Timestamp: ts,
	}, nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
