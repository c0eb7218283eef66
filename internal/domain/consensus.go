package domain

import "time"

// ConsensusResult is the headline output of one collection cycle.
//
// Accepted and Dropped are disjoint and together hold exactly the quotes
// that were successfully collected. Collection failures appear only in
// Failures. MedianMid and SpreadMaxBps are nil when no quote survived.
type ConsensusResult struct {
	CycleID           string          `json:"cycle_id"`
	Pair              string          `json:"pair"`
	AsOf              int64           `json:"as_of"`
	Accepted          []Quote         `json:"accepted_quotes"`
	Dropped           []Quote         `json:"dropped_quotes"`
	ProvisionalMedian *float64        `json:"provisional_median"`
	MedianMid         *float64        `json:"median_mid"`
	SpreadMaxBps      *float64        `json:"spread_max_bps"`
	Failures          []SourceFailure `json:"failures"`
	Messages          []string        `json:"messages"`
}

// Degraded reports whether the cycle produced no consensus price.
func (r ConsensusResult) Degraded() bool {
	return r.MedianMid == nil
}

// CycleConfig parameterizes a single engine invocation.
type CycleConfig struct {
	Pair                string
	Sources             []string
	OutlierThresholdPct float64
	BookSources         []string
	BookDepth           int
	SourceTimeout       time.Duration
	MessagePrecision    int
}

// Valid ranges for CycleConfig.
const (
	MinOutlierThresholdPct = 1.0
	MaxOutlierThresholdPct = 15.0
	MinBookDepth           = 5
	MaxBookDepth           = 50
)

// Cycle statuses.
const (
	CycleOK       = "ok"
	CycleDegraded = "degraded"
	CycleSkipped  = "skipped"
	CycleError    = "error"
)

// CycleOutcome is everything one full cycle produced. Books is nil when no
// book sources are configured.
type CycleOutcome struct {
	Status    string          `json:"status"`
	Consensus ConsensusResult `json:"consensus"`
	Books     *BookReport     `json:"books,omitempty"`
	Elapsed   time.Duration   `json:"elapsed_ns"`
}
