package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	s3blob "github.com/alanyoungcy/priceoracle/internal/blob/s3"
	"github.com/alanyoungcy/priceoracle/internal/cache/local"
	"github.com/alanyoungcy/priceoracle/internal/cache/redis"
	"github.com/alanyoungcy/priceoracle/internal/config"
	"github.com/alanyoungcy/priceoracle/internal/domain"
	"github.com/alanyoungcy/priceoracle/internal/metrics"
	"github.com/alanyoungcy/priceoracle/internal/notify"
	"github.com/alanyoungcy/priceoracle/internal/oracle"
	"github.com/alanyoungcy/priceoracle/internal/platform/rest"
	"github.com/alanyoungcy/priceoracle/internal/server/handler"
	"github.com/alanyoungcy/priceoracle/internal/service"
	"github.com/alanyoungcy/priceoracle/internal/store/postgres"
	"github.com/alanyoungcy/priceoracle/internal/trend"
)

// Dependencies bundles every concrete collaborator the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores (nil when postgres is disabled)
	CycleStore domain.CycleStore
	BookStore  domain.BookStore
	AuditStore domain.AuditStore
	AuditLog   handler.AuditReader

	// Caches (redis-backed, or in-process fallbacks)
	PriceCache  domain.PriceCache
	TrendStore  domain.TrendStore
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage (nil when s3 is disabled)
	BlobReader domain.BlobReader
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	Registry *oracle.Registry
	Engine   *oracle.Engine
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Oracle   *service.OracleService

	// HealthChecks probes each enabled backend.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs every dependency from cfg. Disabled backends fall back to
// in-process implementations where one exists and are left nil otherwise.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.CycleStore = postgres.NewCycleStore(pool)
		deps.BookStore = postgres.NewBookStore(pool)
		audit := postgres.NewAuditStore(pool)
		deps.AuditStore = audit
		deps.AuditLog = audit
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis, or in-process fallbacks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.TrendStore = redis.NewTrendStore(redisClient, cfg.Oracle.Pair, cfg.Redis.TrendTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "wire: redis disabled, using in-process cache, locks and bus")
		deps.TrendStore = trend.NewMemoryStore()
		deps.RateLimiter = local.NewRateLimiter()
		deps.LockManager = local.NewLockManager()
		deps.SignalBus = local.NewBus()
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.HealthChecks["s3"] = s3Client.Health

		// Archiving needs the cycle rows, so it only exists alongside postgres.
		if deps.CycleStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.CycleStore, deps.AuditStore)
		}
	}

	// --- Sources ---
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return fail(err)
	}
	deps.Registry = registry

	deps.Metrics = metrics.New()
	deps.Engine = oracle.NewEngine(registry, deps.TrendStore, logger, oracle.WithObserver(deps.Metrics))

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(buildSenders(cfg.Notify), cfg.Notify.Events, cfg.Notify.MaxPerMinute, logger)

	oracleDeps := service.OracleDeps{
		Engine:  deps.Engine,
		Locks:   deps.LockManager,
		Cycles:  deps.CycleStore,
		Books:   deps.BookStore,
		Audit:   deps.AuditStore,
		Prices:  deps.PriceCache,
		Bus:     deps.SignalBus,
		Metrics: deps.Metrics,
		Alerts:  deps.Notifier,
	}
	deps.Oracle = service.NewOracleService(service.OracleConfig{
		Cycle:          cfg.Oracle.CycleConfig(),
		LockTTL:        cfg.Oracle.LockTTL.Duration,
		SpreadAlertBps: cfg.Notify.SpreadAlertBps,
	}, oracleDeps, logger)

	return deps, cleanup, nil
}

// buildRegistry creates one REST venue per [venues.<id>] section and
// registers it for each capability it has a URL for.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*oracle.Registry, error) {
	registry := oracle.NewRegistry()
	httpClient := &http.Client{Timeout: 15 * time.Second}

	for _, id := range cfg.VenueIDs() {
		vc := cfg.Venues[id]
		venue, err := rest.NewVenue(rest.VenueConfig{
			ID:              id,
			QuoteURL:        vc.QuoteURL,
			BookURL:         vc.BookURL,
			Symbol:          vc.Symbol,
			LastFields:      vc.LastFields,
			BidFields:       vc.BidFields,
			AskFields:       vc.AskFields,
			TimestampFields: vc.TimestampFields,
			BidsFields:      vc.BidsFields,
			AsksFields:      vc.AsksFields,
			TimestampUnit:   vc.TimestampUnit,
			RatePerSec:      vc.RatePerSec,
			Burst:           vc.Burst,
			BreakerFailures: vc.BreakerFailures,
			BreakerCooldown: vc.BreakerCooldown.Duration,
			Headers:         vc.Headers,
		}, httpClient, logger)
		if err != nil {
			return nil, fmt.Errorf("wire: venue %s: %w", id, err)
		}
		if venue.HasQuotes() {
			registry.RegisterQuote(venue)
		}
		if venue.HasBooks() {
			registry.RegisterBook(venue)
		}
	}
	return registry, nil
}

func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}
