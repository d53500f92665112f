// Package config defines the polyview configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYVIEW_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Retention  RetentionConfig  `toml:"retention"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds the Gamma API endpoint and request bounds.
type PolymarketConfig struct {
	GammaHost      string   `toml:"gamma_host"`
	RequestTimeout duration `toml:"request_timeout"`
}

// AggregatorConfig holds fetch sizes, grouping limits and ranking weights.
type AggregatorConfig struct {
	TrendingLimit      int      `toml:"trending_limit"`
	EventsLimit        int      `toml:"events_limit"`
	SearchLimitPerType int      `toml:"search_limit_per_type"`
	MaxGroupSize       int      `toml:"max_group_size"`
	MinActiveVolume    float64  `toml:"min_active_volume"`
	TrendingBoost      float64  `toml:"trending_boost"`
	ProfitableBoost    float64  `toml:"profitable_boost"`
	RankLimit          int      `toml:"rank_limit"`
	RefreshInterval    duration `toml:"refresh_interval"`
}

// RedisConfig holds Redis connection parameters. Redis backs the shared
// market cache, the refresh lock, API rate limiting and the signal bus.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	MarketTTL  duration `toml:"market_ttl"`
}

// PostgresConfig holds snapshot store connection parameters.
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

// S3Config holds S3-compatible object storage parameters for the snapshot
// archive.
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
	// RestoreOnStart warm-starts the snapshot from the latest archive.
	RestoreOnStart bool `toml:"restore_on_start"`
}

// RetentionConfig controls pruning of persisted refresh history.
type RetentionConfig struct {
	Days int    `toml:"days"`
	Cron string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	TrustProxy  bool     `toml:"trust_proxy"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Run modes.
const (
	ModeServer  = "server"
	ModeRefresh = "refresh"
	ModeFull    = "full"
)

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:      "https://gamma-api.polymarket.com",
			RequestTimeout: duration{30 * time.Second},
		},
		Aggregator: AggregatorConfig{
			TrendingLimit:      100,
			EventsLimit:        100,
			SearchLimitPerType: 20,
			MaxGroupSize:       25,
			MinActiveVolume:    0,
			TrendingBoost:      1.2,
			ProfitableBoost:    1.15,
			RankLimit:          100,
			RefreshInterval:    duration{time.Minute},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "polyview:",
			MarketTTL:  duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polyview",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyview-snapshots",
			Prefix:         "snapshots",
			ForcePathStyle: true,
			RestoreOnStart: true,
		},
		Retention: RetentionConfig{
			Days: 30,
			Cron: "0 3 * * *",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"no_markets", "markets_restored"},
			Cooldown: duration{15 * time.Minute},
		},
		Mode:     ModeServer,
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeServer:  true,
	ModeRefresh: true,
	ModeFull:    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// PersistenceEnabled reports whether the Postgres store is in use. Full mode
// always persists.
func (c *Config) PersistenceEnabled() bool {
	return c.Postgres.Enabled || strings.EqualFold(c.Mode, ModeFull)
}

// ArchiveEnabled reports whether the S3 archive is in use. Full mode always
// archives.
func (c *Config) ArchiveEnabled() bool {
	return c.S3.Enabled || strings.EqualFold(c.Mode, ModeFull)
}

// ServesHTTP reports whether the mode runs the API server.
func (c *Config) ServesHTTP() bool {
	return !strings.EqualFold(c.Mode, ModeRefresh)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, refresh, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket
	if strings.TrimSpace(c.Polymarket.GammaHost) == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.RequestTimeout.Duration <= 0 {
		errs = append(errs, "polymarket: request_timeout must be > 0")
	}

	// Aggregator
	a := c.Aggregator
	if a.TrendingLimit < 1 {
		errs = append(errs, "aggregator: trending_limit must be >= 1")
	}
	if a.EventsLimit < 1 {
		errs = append(errs, "aggregator: events_limit must be >= 1")
	}
	if a.SearchLimitPerType < 1 {
		errs = append(errs, "aggregator: search_limit_per_type must be >= 1")
	}
	if a.MaxGroupSize < 2 {
		errs = append(errs, "aggregator: max_group_size must be >= 2")
	}
	if a.MinActiveVolume < 0 {
		errs = append(errs, "aggregator: min_active_volume must be >= 0")
	}
	if a.TrendingBoost < 1 || a.ProfitableBoost < 1 {
		errs = append(errs, "aggregator: trending_boost and profitable_boost must be >= 1")
	}
	if a.RankLimit < 1 {
		errs = append(errs, "aggregator: rank_limit must be >= 1")
	}
	if a.RefreshInterval.Duration < time.Second {
		errs = append(errs, "aggregator: refresh_interval must be >= 1s")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.MarketTTL.Duration <= 0 {
			errs = append(errs, "redis: market_ttl must be > 0")
		}
	}

	// Postgres
	if c.PersistenceEnabled() {
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
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.ArchiveEnabled() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Retention
	if c.PersistenceEnabled() || c.ArchiveEnabled() {
		if c.Retention.Days < 1 {
			errs = append(errs, "retention: days must be >= 1")
		}
		if len(strings.Fields(c.Retention.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("retention: cron must have 5 fields, got %q", c.Retention.Cron))
		}
	}

	// Server
	if c.ServesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
