package domain

import (
	"context"
	"time"
)

// TrendStore is the per-source memory of the previous cycle's book KPIs.
//
// Swap atomically returns the stored point for sourceID (found=false on the
// first observation) and replaces it with cur. Each key has exactly one
// writer per cycle, so a cycle never compares against its own data.
type TrendStore interface {
	Swap(ctx context.Context, sourceID string, cur TrendPoint) (prev TrendPoint, found bool, err error)
}

// PriceCache provides fast access to the latest consensus price per pair.
type PriceCache interface {
	SetConsensus(ctx context.Context, pair string, price, spreadBps float64, ts time.Time) error
	GetConsensus(ctx context.Context, pair string) (price, spreadBps float64, ts time.Time, err error)
}

// RateLimiter provides sliding-window rate limiting keyed by caller.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry of a durable event stream.
type StreamMessage struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

// SignalBus provides pub/sub fan-out of cycle results plus a durable,
// ordered stream for replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels carrying cycle output.
const (
	ChannelConsensus = "oracle:consensus"
	ChannelBooks     = "oracle:books"
	ChannelStatus    = "oracle:status"

	// StreamCycles is the durable log of every cycle's consensus payload.
	StreamCycles = "oracle:stream:cycles"
)
