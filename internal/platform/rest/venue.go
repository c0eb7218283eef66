// Package rest implements quote and order book sources for exchanges that
// expose public JSON REST endpoints. Field names differ per venue, so every
// attribute is read from an ordered list of candidate paths.
package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

const maxBodyBytes = 4 << 20

// VenueConfig describes one exchange. URL templates may contain {symbol}
// and {depth}.
type VenueConfig struct {
	ID              string
	QuoteURL        string
	BookURL         string
	Symbol          string
	LastFields      []string
	BidFields       []string
	AskFields       []string
	TimestampFields []string
	BidsFields      []string
	AsksFields      []string
	// TimestampUnit is "ms" (default) or "s".
	TimestampUnit   string
	RatePerSec      float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Headers         map[string]string
}

// Venue is a QuoteSource and OrderbookSource for one exchange. Calls are
// rate limited and pass through a circuit breaker; an open breaker fails
// fast with domain.ErrSourceUnavailable.
type Venue struct {
	cfg     VenueConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewVenue validates cfg and builds a Venue. A nil httpClient uses a client
// with a 10s timeout; per-call deadlines come from the context.
func NewVenue(cfg VenueConfig, httpClient *http.Client, logger *slog.Logger) (*Venue, error) {
	if cfg.ID == "" {
		return nil, errors.New("rest: venue id is required")
	}
	if cfg.QuoteURL == "" && cfg.BookURL == "" {
		return nil, fmt.Errorf("rest: venue %s has neither quote_url nor book_url", cfg.ID)
	}
	if cfg.QuoteURL != "" && (len(cfg.BidFields) == 0 || len(cfg.AskFields) == 0) {
		return nil, fmt.Errorf("rest: venue %s needs bid_fields and ask_fields", cfg.ID)
	}
	if cfg.BookURL != "" && (len(cfg.BidsFields) == 0 || len(cfg.AsksFields) == 0) {
		return nil, fmt.Errorf("rest: venue %s needs bids_fields and asks_fields", cfg.ID)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	lg := logger.With(slog.String("component", "rest_venue"), slog.String("venue", cfg.ID))
	st := gobreaker.Settings{
		Name:     cfg.ID,
		Interval: 60 * time.Second,
		Timeout:  cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("rest: breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &Venue{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  lg,
	}, nil
}

// ID returns the venue id.
func (v *Venue) ID() string { return v.cfg.ID }

// HasQuotes reports whether a quote endpoint is configured.
func (v *Venue) HasQuotes() bool { return v.cfg.QuoteURL != "" }

// HasBooks reports whether an order book endpoint is configured.
func (v *Venue) HasBooks() bool { return v.cfg.BookURL != "" }

// FetchQuote implements domain.QuoteSource. The pair argument is only
// used when the venue has no explicit symbol.
func (v *Venue) FetchQuote(ctx context.Context, pair string) (domain.RawQuote, error) {
	if v.cfg.QuoteURL == "" {
		return domain.RawQuote{}, fmt.Errorf("rest: %s: no quote endpoint: %w", v.cfg.ID, domain.ErrSourceUnavailable)
	}
	doc, err := v.get(ctx, v.render(v.cfg.QuoteURL, pair, 0))
	if err != nil {
		return domain.RawQuote{}, err
	}

	q := domain.RawQuote{SourceID: v.cfg.ID, Pair: pair}
	if q.Bid, err = firstNumber(doc, "bid", v.cfg.BidFields); err != nil {
		return domain.RawQuote{}, fmt.Errorf("rest: %s quote: %w", v.cfg.ID, err)
	}
	if q.Ask, err = firstNumber(doc, "ask", v.cfg.AskFields); err != nil {
		return domain.RawQuote{}, fmt.Errorf("rest: %s quote: %w", v.cfg.ID, err)
	}
	// last and timestamp are optional
	if len(v.cfg.LastFields) > 0 {
		if last, err := firstNumber(doc, "last", v.cfg.LastFields); err == nil {
			q.Last = last
		}
	}
	q.Timestamp = v.timestamp(doc)
	return q, nil
}

// FetchOrderbook implements domain.OrderbookSource. Levels are sorted,
// merged by price and cut to depth.
func (v *Venue) FetchOrderbook(ctx context.Context, pair string, depth int) (domain.OrderbookSnapshot, error) {
	if v.cfg.BookURL == "" {
		return domain.OrderbookSnapshot{}, fmt.Errorf("rest: %s: no book endpoint: %w", v.cfg.ID, domain.ErrSourceUnavailable)
	}
	doc, err := v.get(ctx, v.render(v.cfg.BookURL, pair, depth))
	if err != nil {
		return domain.OrderbookSnapshot{}, err
	}

	rawBids, err := first(doc, "bids", v.cfg.BidsFields)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("rest: %s book: %w", v.cfg.ID, err)
	}
	rawAsks, err := first(doc, "asks", v.cfg.AsksFields)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("rest: %s book: %w", v.cfg.ID, err)
	}
	bids, err := levels(rawBids)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("rest: %s bids: %w", v.cfg.ID, err)
	}
	asks, err := levels(rawAsks)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("rest: %s asks: %w", v.cfg.ID, err)
	}

	snap := domain.OrderbookSnapshot{
		SourceID:  v.cfg.ID,
		Pair:      pair,
		Bids:      normalizeSide(bids, true, depth),
		Asks:      normalizeSide(asks, false, depth),
		Timestamp: time.Now(),
	}
	if ms := v.timestamp(doc); ms > 0 {
		snap.Timestamp = time.UnixMilli(ms)
	}
	return snap, nil
}

// get performs a rate-limited GET through the breaker and decodes the body.
func (v *Venue) get(ctx context.Context, rawURL string) (any, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rest: %s rate limit: %w: %w", v.cfg.ID, domain.ErrSourceUnavailable, err)
	}

	out, err := v.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, val := range v.cfg.Headers {
			req.Header.Set(k, val)
		}

		resp, err := v.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
		}
		return decode(body)
	})
	if err != nil {
		v.logger.DebugContext(ctx, "rest: request failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("rest: %s: %w: %w", v.cfg.ID, domain.ErrSourceUnavailable, err)
	}
	return out, nil
}

func (v *Venue) render(tmpl, pair string, depth int) string {
	symbol := v.cfg.Symbol
	if symbol == "" {
		symbol = pair
	}
	r := strings.NewReplacer(
		"{symbol}", url.QueryEscape(symbol),
		"{depth}", strconv.Itoa(depth),
	)
	return r.Replace(tmpl)
}

// timestamp returns the payload timestamp in milliseconds, or 0 when none
// of the candidate fields is present or parseable.
func (v *Venue) timestamp(doc any) int64 {
	if len(v.cfg.TimestampFields) == 0 {
		return 0
	}
	ts, err := firstNumber(doc, "timestamp", v.cfg.TimestampFields)
	if err != nil || ts <= 0 {
		return 0
	}
	if v.cfg.TimestampUnit == "s" {
		ts *= 1000
	}
	return int64(ts)
}

// normalizeSide drops empty or non-positive levels, merges equal prices,
// orders bids descending and asks ascending, and keeps at most depth levels.
func normalizeSide(in []domain.PriceLevel, bids bool, depth int) []domain.PriceLevel {
	byPrice := make(map[float64]float64, len(in))
	for _, l := range in {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		byPrice[l.Price] += l.Size
	}
	out := make([]domain.PriceLevel, 0, len(byPrice))
	for p, s := range byPrice {
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if bids {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Compile-time interface checks.
var (
	_ domain.QuoteSource     = (*Venue)(nil)
	_ domain.OrderbookSource = (*Venue)(nil)
)
