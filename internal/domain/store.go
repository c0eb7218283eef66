package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CycleRecord is the persisted summary row of one consensus cycle.
type CycleRecord struct {
	ID                string    `json:"id"`
	Pair              string    `json:"pair"`
	AsOf              time.Time `json:"as_of"`
	MedianMid         *float64  `json:"median_mid"`
	SpreadMaxBps      *float64  `json:"spread_max_bps"`
	ProvisionalMedian *float64  `json:"provisional_median"`
	Accepted          []string  `json:"accepted"`
	Dropped           []string  `json:"dropped"`
	Failed            []string  `json:"failed"`
	Messages          []string  `json:"messages"`
}

// NewCycleRecord flattens a ConsensusResult into its summary row.
func NewCycleRecord(res ConsensusResult) CycleRecord {
	rec := CycleRecord{
		ID:                res.CycleID,
		Pair:              res.Pair,
		AsOf:              time.UnixMilli(res.AsOf).UTC(),
		MedianMid:         res.MedianMid,
		SpreadMaxBps:      res.SpreadMaxBps,
		ProvisionalMedian: res.ProvisionalMedian,
		Accepted:          make([]string, 0, len(res.Accepted)),
		Dropped:           make([]string, 0, len(res.Dropped)),
		Failed:            make([]string, 0, len(res.Failures)),
		Messages:          append([]string(nil), res.Messages...),
	}
	for _, q := range res.Accepted {
		rec.Accepted = append(rec.Accepted, q.SourceID)
	}
	for _, q := range res.Dropped {
		rec.Dropped = append(rec.Dropped, q.SourceID)
	}
	for _, f := range res.Failures {
		rec.Failed = append(rec.Failed, f.SourceID)
	}
	return rec
}

// CycleStore persists consensus cycle summaries.
type CycleStore interface {
	Insert(ctx context.Context, rec CycleRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]CycleRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]CycleRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BookRecord is one persisted per-source book analysis.
type BookRecord struct {
	CycleID  string       `json:"cycle_id"`
	Pair     string       `json:"pair"`
	AsOf     time.Time    `json:"as_of"`
	Analysis BookAnalysis `json:"analysis"`
}

// BookStore persists order book analyses and cross-market summaries.
type BookStore interface {
	InsertReport(ctx context.Context, report BookReport) error
	ListBySource(ctx context.Context, sourceID string, opts ListOpts) ([]BookRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
