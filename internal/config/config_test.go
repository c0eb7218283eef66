package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oracle.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"bitget", "gate", "kucoin", "mexc"}, cfg.VenueIDs())

	cc := cfg.Oracle.CycleConfig()
	assert.Equal(t, "KAS/USDT", cc.Pair)
	assert.Equal(t, 5*time.Second, cc.SourceTimeout)
	assert.Equal(t, 20, cc.BookDepth)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeTOML(t, `
mode = "poll"

[oracle]
sources = ["mexc", "gate"]
outlier_threshold_pct = 3.5
cycle_interval = "30s"

[venues.gate]
quote_url = "http://localhost/gate?pair={symbol}"
symbol = "KAS_USDT"
bid_fields = ["bid"]
ask_fields = ["ask"]
`)
	t.Setenv("ORACLE_LOG_LEVEL", "debug")
	t.Setenv("ORACLE_SERVER_API_KEY", "k")
	t.Setenv("ORACLE_BOOK_SOURCES", " mexc , ")
	t.Setenv("ORACLE_REDIS_KEY_PREFIX", "staging:")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "poll", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"mexc", "gate"}, cfg.Oracle.Sources)
	assert.Equal(t, []string{"mexc"}, cfg.Oracle.BookSources)
	assert.Equal(t, 3.5, cfg.Oracle.OutlierThresholdPct)
	assert.Equal(t, 30*time.Second, cfg.Oracle.CycleInterval.Duration)
	assert.Equal(t, "KAS/USDT", cfg.Oracle.Pair, "untouched defaults survive")
	assert.Equal(t, "k", cfg.Server.APIKey)
	assert.Equal(t, "staging:", cfg.Redis.KeyPrefix)
	assert.Equal(t, int64(10000), cfg.Redis.StreamMaxLen)

	// The file replaces the gate definition; the other venues keep theirs.
	assert.Equal(t, []string{"bid"}, cfg.Venues["gate"].BidFields)
	assert.Empty(t, cfg.Venues["gate"].BookURL)
	assert.Equal(t, "KASUSDT", cfg.Venues["mexc"].Symbol)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, "[oracle]\nthreshold = 5\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle.threshold")
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Oracle.OutlierThresholdPct = 20
	cfg.Oracle.BookDepth = 2
	cfg.Oracle.Sources = append(cfg.Oracle.Sources, "binance")
	cfg.Archive.Enabled = true
	cfg.Notify.TelegramToken = "t"
	cfg.Venues["mexc"] = VenueConfig{BookURL: "x", TimestampUnit: "us"}
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"outlier_threshold_pct must be 1-15, got 20",
		"book_depth must be 5-50, got 2",
		`source "binance" has no [venues.binance] section`,
		"venues.mexc: quote_url is required",
		"venues.mexc: timestamp_unit must be ms or s",
		"archive: requires both s3 and postgres",
		"telegram_token and telegram_chat_id",
		`trusted_proxies entry "proxy.local"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = "tok"
	v := cfg.Venues["mexc"]
	v.Headers = map[string]string{"X-API-KEY": "abc"}
	cfg.Venues["mexc"] = v

	out := RedactedConfig(&cfg)

	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Empty(t, out.S3.SecretKey, "empty secrets stay empty")
	assert.Equal(t, redacted, out.Venues["mexc"].Headers["X-API-KEY"])

	assert.Equal(t, "pw", cfg.Postgres.Password)
	assert.Equal(t, "abc", cfg.Venues["mexc"].Headers["X-API-KEY"])
	out.Oracle.Sources[0] = "changed"
	assert.Equal(t, "mexc", cfg.Oracle.Sources[0])
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, time.Minute, cfg.Server.RateWindow.Duration)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Len(t, cfg.Venues, 4)
}
