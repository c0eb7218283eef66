// Package config defines the priceoracle configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"net/netip"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and are
// then optionally overridden by ORACLE_* environment variables.
type Config struct {
	Mode     string                 `toml:"mode"`
	LogLevel string                 `toml:"log_level"`
	Oracle   OracleConfig           `toml:"oracle"`
	Venues   map[string]VenueConfig `toml:"venues"`
	Redis    RedisConfig            `toml:"redis"`
	Postgres PostgresConfig         `toml:"postgres"`
	S3       S3Config               `toml:"s3"`
	Archive  ArchiveConfig          `toml:"archive"`
	Server   ServerConfig           `toml:"server"`
	Notify   NotifyConfig           `toml:"notify"`
}

// OracleConfig holds the cycle parameters.
type OracleConfig struct {
	Pair                string   `toml:"pair"`
	Sources             []string `toml:"sources"`
	OutlierThresholdPct float64  `toml:"outlier_threshold_pct"`
	BookSources         []string `toml:"book_sources"`
	BookDepth           int      `toml:"book_depth"`
	CycleInterval       duration `toml:"cycle_interval"`
	SourceTimeout       duration `toml:"source_timeout"`
	MessagePrecision    int      `toml:"message_precision"`
	LockTTL             duration `toml:"lock_ttl"`
}

// CycleConfig converts the section into the engine's per-cycle config.
func (o OracleConfig) CycleConfig() domain.CycleConfig {
	return domain.CycleConfig{
		Pair:                o.Pair,
		Sources:             slices.Clone(o.Sources),
		OutlierThresholdPct: o.OutlierThresholdPct,
		BookSources:         slices.Clone(o.BookSources),
		BookDepth:           o.BookDepth,
		SourceTimeout:       o.SourceTimeout.Duration,
		MessagePrecision:    o.MessagePrecision,
	}
}

// VenueConfig describes one REST exchange. URL templates may contain
// {symbol} and {depth}; field lists are dotted JSON paths tried in order.
type VenueConfig struct {
	QuoteURL        string            `toml:"quote_url"`
	BookURL         string            `toml:"book_url"`
	Symbol          string            `toml:"symbol"`
	LastFields      []string          `toml:"last_fields"`
	BidFields       []string          `toml:"bid_fields"`
	AskFields       []string          `toml:"ask_fields"`
	TimestampFields []string          `toml:"timestamp_fields"`
	BidsFields      []string          `toml:"bids_fields"`
	AsksFields      []string          `toml:"asks_fields"`
	TimestampUnit   string            `toml:"timestamp_unit"`
	RatePerSec      float64           `toml:"rate_per_sec"`
	Burst           int               `toml:"burst"`
	BreakerFailures uint32            `toml:"breaker_failures"`
	BreakerCooldown duration          `toml:"breaker_cooldown"`
	Headers         map[string]string `toml:"headers"`
}

// RedisConfig holds Redis connection parameters. When disabled the oracle
// falls back to in-process caches, locks and bus.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
	TrendTTL   duration `toml:"trend_ttl"`

	// KeyPrefix namespaces keys, channels and streams.
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage archiver.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`

	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	SpreadAlertBps    float64  `toml:"spread_alert_bps"`
	MaxPerMinute      int      `toml:"max_per_minute"`
}

// duration wraps time.Duration for TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config for KAS/USDT across MEXC, Gate.io, KuCoin and
// Bitget with every optional backend disabled.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Oracle: OracleConfig{
			Pair:                "KAS/USDT",
			Sources:             []string{"mexc", "gate", "kucoin", "bitget"},
			OutlierThresholdPct: 5,
			BookSources:         []string{"mexc", "gate", "kucoin", "bitget"},
			BookDepth:           20,
			CycleInterval:       duration{10 * time.Second},
			SourceTimeout:       duration{5 * time.Second},
			MessagePrecision:    6,
			LockTTL:             duration{30 * time.Second},
		},
		Venues: DefaultVenues(),
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			PriceTTL:   duration{5 * time.Minute},
			TrendTTL:   duration{24 * time.Hour},

			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "priceoracle",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "priceoracle",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8080,
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:         []string{"cycle_degraded", "spread_alert", "archive_done"},
			SpreadAlertBps: 50,
			MaxPerMinute:   10,
		},
	}
}

// DefaultVenues returns the public REST endpoints of the supported
// exchanges for KAS/USDT.
func DefaultVenues() map[string]VenueConfig {
	return map[string]VenueConfig{
		"mexc": {
			QuoteURL:        "https://api.mexc.com/api/v3/ticker/24hr?symbol={symbol}",
			BookURL:         "https://api.mexc.com/api/v3/depth?symbol={symbol}&limit={depth}",
			Symbol:          "KASUSDT",
			LastFields:      []string{"lastPrice"},
			BidFields:       []string{"bidPrice"},
			AskFields:       []string{"askPrice"},
			TimestampFields: []string{"closeTime"},
			BidsFields:      []string{"bids"},
			AsksFields:      []string{"asks"},
			TimestampUnit:   "ms",
			RatePerSec:      5,
			Burst:           2,
			BreakerFailures: 5,
		},
		"gate": {
			QuoteURL:        "https://api.gateio.ws/api/v4/spot/tickers?currency_pair={symbol}",
			BookURL:         "https://api.gateio.ws/api/v4/spot/order_book?currency_pair={symbol}&limit={depth}",
			Symbol:          "KAS_USDT",
			LastFields:      []string{"0.last"},
			BidFields:       []string{"0.highest_bid"},
			AskFields:       []string{"0.lowest_ask"},
			BidsFields:      []string{"bids"},
			AsksFields:      []string{"asks"},
			TimestampFields: []string{"current"},
			TimestampUnit:   "ms",
			RatePerSec:      5,
			Burst:           2,
			BreakerFailures: 5,
		},
		"kucoin": {
			QuoteURL:        "https://api.kucoin.com/api/v1/market/orderbook/level1?symbol={symbol}",
			BookURL:         "https://api.kucoin.com/api/v1/market/orderbook/level2_20?symbol={symbol}",
			Symbol:          "KAS-USDT",
			LastFields:      []string{"data.price"},
			BidFields:       []string{"data.bestBid"},
			AskFields:       []string{"data.bestAsk"},
			TimestampFields: []string{"data.time"},
			BidsFields:      []string{"data.bids"},
			AsksFields:      []string{"data.asks"},
			TimestampUnit:   "ms",
			RatePerSec:      5,
			Burst:           2,
			BreakerFailures: 5,
		},
		"bitget": {
			QuoteURL:        "https://api.bitget.com/api/v2/spot/market/tickers?symbol={symbol}",
			BookURL:         "https://api.bitget.com/api/v2/spot/market/orderbook?symbol={symbol}&limit={depth}",
			Symbol:          "KASUSDT",
			LastFields:      []string{"data.0.lastPr", "data.0.close"},
			BidFields:       []string{"data.0.bidPr", "data.0.buyOne"},
			AskFields:       []string{"data.0.askPr", "data.0.sellOne"},
			TimestampFields: []string{"data.0.ts", "data.ts"},
			BidsFields:      []string{"data.bids"},
			AsksFields:      []string{"data.asks"},
			TimestampUnit:   "ms",
			RatePerSec:      5,
			Burst:           2,
			BreakerFailures: 5,
		},
	}
}

var (
	validModes     = []string{"once", "poll", "server", "full"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// Validate checks the whole config and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validModes, c.Mode) {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", ")))
	}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", ")))
	}

	o := c.Oracle
	if strings.TrimSpace(o.Pair) == "" {
		errs = append(errs, "oracle: pair must not be empty")
	}
	if o.OutlierThresholdPct < domain.MinOutlierThresholdPct || o.OutlierThresholdPct > domain.MaxOutlierThresholdPct {
		errs = append(errs, fmt.Sprintf("oracle: outlier_threshold_pct must be %v-%v, got %v",
			domain.MinOutlierThresholdPct, domain.MaxOutlierThresholdPct, o.OutlierThresholdPct))
	}
	if len(o.BookSources) > 0 && (o.BookDepth < domain.MinBookDepth || o.BookDepth > domain.MaxBookDepth) {
		errs = append(errs, fmt.Sprintf("oracle: book_depth must be %d-%d, got %d",
			domain.MinBookDepth, domain.MaxBookDepth, o.BookDepth))
	}
	if o.CycleInterval.Duration <= 0 {
		errs = append(errs, "oracle: cycle_interval must be positive")
	}
	if o.SourceTimeout.Duration < 0 {
		errs = append(errs, "oracle: source_timeout must not be negative")
	}
	for _, id := range o.Sources {
		v, ok := c.Venues[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("oracle: source %q has no [venues.%s] section", id, id))
		} else if v.QuoteURL == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: quote_url is required for a quote source", id))
		}
	}
	for _, id := range o.BookSources {
		v, ok := c.Venues[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("oracle: book source %q has no [venues.%s] section", id, id))
		} else if v.BookURL == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: book_url is required for a book source", id))
		}
	}
	for _, id := range c.VenueIDs() {
		v := c.Venues[id]
		if v.TimestampUnit != "" && v.TimestampUnit != "ms" && v.TimestampUnit != "s" {
			errs = append(errs, fmt.Sprintf("venues.%s: timestamp_unit must be ms or s, got %q", id, v.TimestampUnit))
		}
		if v.RatePerSec < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: rate_per_sec must not be negative", id))
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be 0-pool_max_conns")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Archive.Enabled {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			errs = append(errs, "archive: requires both s3 and postgres to be enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %q", c.Archive.Cron))
		}
	}

	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
		for _, p := range c.Server.TrustedProxies {
			if !validProxy(p) {
				errs = append(errs, fmt.Sprintf("server: trusted_proxies entry %q is not an IP or CIDR", p))
			}
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// VenueIDs returns the configured venue ids in sorted order.
func (c *Config) VenueIDs() []string {
	ids := make([]string, 0, len(c.Venues))
	for id := range c.Venues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
