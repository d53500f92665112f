package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYVIEW_* environment variable overrides, and
// returns the final Config. An empty path or a missing file leaves the
// defaults in place. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYVIEW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYVIEW_POLYMARKET_GAMMA_HOST")
	setDuration(&cfg.Polymarket.RequestTimeout, "POLYVIEW_POLYMARKET_REQUEST_TIMEOUT")

	// ── Aggregator ──
	setInt(&cfg.Aggregator.TrendingLimit, "POLYVIEW_AGGREGATOR_TRENDING_LIMIT")
	setInt(&cfg.Aggregator.EventsLimit, "POLYVIEW_AGGREGATOR_EVENTS_LIMIT")
	setInt(&cfg.Aggregator.SearchLimitPerType, "POLYVIEW_AGGREGATOR_SEARCH_LIMIT_PER_TYPE")
	setInt(&cfg.Aggregator.MaxGroupSize, "POLYVIEW_AGGREGATOR_MAX_GROUP_SIZE")
	setFloat64(&cfg.Aggregator.MinActiveVolume, "POLYVIEW_AGGREGATOR_MIN_ACTIVE_VOLUME")
	setFloat64(&cfg.Aggregator.TrendingBoost, "POLYVIEW_AGGREGATOR_TRENDING_BOOST")
	setFloat64(&cfg.Aggregator.ProfitableBoost, "POLYVIEW_AGGREGATOR_PROFITABLE_BOOST")
	setInt(&cfg.Aggregator.RankLimit, "POLYVIEW_AGGREGATOR_RANK_LIMIT")
	setDuration(&cfg.Aggregator.RefreshInterval, "POLYVIEW_AGGREGATOR_REFRESH_INTERVAL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYVIEW_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYVIEW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYVIEW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYVIEW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYVIEW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYVIEW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYVIEW_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POLYVIEW_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.MarketTTL, "POLYVIEW_REDIS_MARKET_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POLYVIEW_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POLYVIEW_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYVIEW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYVIEW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYVIEW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYVIEW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYVIEW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYVIEW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYVIEW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYVIEW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYVIEW_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYVIEW_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYVIEW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYVIEW_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYVIEW_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLYVIEW_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLYVIEW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYVIEW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYVIEW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYVIEW_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.RestoreOnStart, "POLYVIEW_S3_RESTORE_ON_START")

	// ── Retention ──
	setInt(&cfg.Retention.Days, "POLYVIEW_RETENTION_DAYS")
	setStr(&cfg.Retention.Cron, "POLYVIEW_RETENTION_CRON")

	// ── Server ──
	setStr(&cfg.Server.Host, "POLYVIEW_SERVER_HOST")
	setInt(&cfg.Server.Port, "POLYVIEW_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-assigned port
	setStringSlice(&cfg.Server.CORSOrigins, "POLYVIEW_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYVIEW_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYVIEW_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYVIEW_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.TrustProxy, "POLYVIEW_SERVER_TRUST_PROXY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYVIEW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYVIEW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYVIEW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYVIEW_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "POLYVIEW_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYVIEW_MODE")
	setStr(&cfg.LogLevel, "POLYVIEW_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
