package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// TrendStore implements domain.TrendStore with one Redis hash per source at
// "trend:{pair}:{source}". Swap reads and replaces the hash inside a
// MULTI/EXEC transaction so concurrent processes never interleave.
type TrendStore struct {
	c    *Client
	pair string
	ttl  time.Duration
}

// NewTrendStore creates a TrendStore for pair. A positive ttl lets stale
// trend state expire when a source disappears.
func NewTrendStore(c *Client, pair string, ttl time.Duration) *TrendStore {
	return &TrendStore{c: c, pair: pair, ttl: ttl}
}

func (ts *TrendStore) key(sourceID string) string {
	return ts.c.Key("trend:" + ts.pair + ":" + sourceID)
}

// Swap implements domain.TrendStore.
func (ts *TrendStore) Swap(ctx context.Context, sourceID string, cur domain.TrendPoint) (domain.TrendPoint, bool, error) {
	key := ts.key(sourceID)

	pipe := ts.c.Underlying().TxPipeline()
	get := pipe.HGetAll(ctx, key)
	pipe.HSet(ctx, key,
		"mid", strconv.FormatFloat(cur.Mid, 'f', -1, 64),
		"imbalance", strconv.FormatFloat(cur.Imbalance, 'f', -1, 64),
		"total_depth", strconv.FormatFloat(cur.TotalDepth, 'f', -1, 64),
	)
	if ts.ttl > 0 {
		pipe.Expire(ctx, key, ts.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.TrendPoint{}, false, fmt.Errorf("redis: trend swap %s: %w", sourceID, err)
	}

	vals, err := get.Result()
	if err != nil {
		return domain.TrendPoint{}, false, fmt.Errorf("redis: trend swap %s: %w", sourceID, err)
	}
	if len(vals) == 0 {
		return domain.TrendPoint{}, false, nil
	}

	var prev domain.TrendPoint
	for field, dst := range map[string]*float64{
		"mid":         &prev.Mid,
		"imbalance":   &prev.Imbalance,
		"total_depth": &prev.TotalDepth,
	} {
		v, err := strconv.ParseFloat(vals[field], 64)
		if err != nil {
			return domain.TrendPoint{}, false, fmt.Errorf("redis: parse trend %s.%s: %w", sourceID, field, err)
		}
		*dst = v
	}
	return prev, true, nil
}

// Compile-time interface check.
var _ domain.TrendStore = (*TrendStore)(nil)
