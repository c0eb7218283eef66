package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each pair's consensus is stored at key "price:{pair}" with fields
// "price", "spread_bps" and "ts" (Unix milliseconds).
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A positive
// ttl expires entries that are not refreshed by a later cycle.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) key(pair string) string {
	return pc.c.Key("price:" + pair)
}

// SetConsensus stores the latest consensus price for a pair.
func (pc *PriceCache) SetConsensus(ctx context.Context, pair string, price, spreadBps float64, ts time.Time) error {
	key := pc.key(pair)
	pipe := pc.c.Underlying().TxPipeline()
	pipe.HSet(ctx, key,
		"price", strconv.FormatFloat(price, 'f', -1, 64),
		"spread_bps", strconv.FormatFloat(spreadBps, 'f', -1, 64),
		"ts", strconv.FormatInt(ts.UnixMilli(), 10),
	)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set consensus %s: %w", pair, err)
	}
	return nil
}

// GetConsensus retrieves the latest consensus for a pair.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetConsensus(ctx context.Context, pair string) (float64, float64, time.Time, error) {
	vals, err := pc.c.Underlying().HGetAll(ctx, pc.key(pair)).Result()
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: get consensus %s: %w", pair, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", pair, err)
	}

	var spread float64
	if s, ok := vals["spread_bps"]; ok {
		if spread, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, 0, time.Time{}, fmt.Errorf("redis: parse spread %s: %w", pair, err)
		}
	}

	tsMilli, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", pair, err)
	}
	return price, spread, time.UnixMilli(tsMilli), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
