package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration: defaults, then the TOML file at path (if
// path is non-empty), then a .env file if present, then ORACLE_* variables.
// A [venues.<id>] section replaces the built-in definition of that venue.
// The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deployment
// settings without editing the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "ORACLE_MODE")
	setStr(&cfg.LogLevel, "ORACLE_LOG_LEVEL")

	// oracle
	setStr(&cfg.Oracle.Pair, "ORACLE_PAIR")
	setStringSlice(&cfg.Oracle.Sources, "ORACLE_SOURCES")
	setFloat64(&cfg.Oracle.OutlierThresholdPct, "ORACLE_OUTLIER_THRESHOLD_PCT")
	setStringSlice(&cfg.Oracle.BookSources, "ORACLE_BOOK_SOURCES")
	setInt(&cfg.Oracle.BookDepth, "ORACLE_BOOK_DEPTH")
	setDuration(&cfg.Oracle.CycleInterval, "ORACLE_CYCLE_INTERVAL")
	setDuration(&cfg.Oracle.SourceTimeout, "ORACLE_SOURCE_TIMEOUT")
	setInt(&cfg.Oracle.MessagePrecision, "ORACLE_MESSAGE_PRECISION")

	// redis
	setBool(&cfg.Redis.Enabled, "ORACLE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ORACLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORACLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORACLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORACLE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ORACLE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ORACLE_REDIS_KEY_PREFIX")

	// postgres
	setBool(&cfg.Postgres.Enabled, "ORACLE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ORACLE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ORACLE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORACLE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORACLE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORACLE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORACLE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORACLE_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "ORACLE_POSTGRES_RUN_MIGRATIONS")

	// s3
	setBool(&cfg.S3.Enabled, "ORACLE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ORACLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORACLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORACLE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "ORACLE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "ORACLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORACLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORACLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORACLE_S3_FORCE_PATH_STYLE")

	// archive
	setBool(&cfg.Archive.Enabled, "ORACLE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ORACLE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ORACLE_ARCHIVE_CRON")

	// server
	setBool(&cfg.Server.Enabled, "ORACLE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ORACLE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ORACLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ORACLE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ORACLE_SERVER_RATE_LIMIT")
	setStringSlice(&cfg.Server.TrustedProxies, "ORACLE_SERVER_TRUSTED_PROXIES")

	// notify
	setStr(&cfg.Notify.TelegramToken, "ORACLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORACLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORACLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORACLE_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.SpreadAlertBps, "ORACLE_NOTIFY_SPREAD_ALERT_BPS")
}

// Typed env helpers. Each only touches the target when the variable is set
// and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
