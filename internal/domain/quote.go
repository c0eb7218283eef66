package domain

// RawQuote is what a QuoteSource returns before normalization. Timestamp is
// milliseconds since epoch; zero means the upstream did not supply one.
type RawQuote struct {
	SourceID  string
	Pair      string
	Last      float64
	Bid       float64
	Ask       float64
	Timestamp int64
}

// Quote is one source's normalized view of the market for a single cycle.
// Mid is always derived from Bid and Ask by the normalizer.
type Quote struct {
	SourceID  string  `json:"source_id"`
	Pair      string  `json:"pair"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Mid       float64 `json:"mid"`
	Timestamp int64   `json:"timestamp"`
}

// SourceFailure records a source that produced nothing usable in a cycle.
type SourceFailure struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// String renders the failure as "{source_id}: {reason}".
func (f SourceFailure) String() string {
	return f.SourceID + ": " + f.Reason
}

// QuoteSet is everything collected from quote sources in one cycle.
type QuoteSet struct {
	Quotes   []Quote
	Failures []SourceFailure
}
