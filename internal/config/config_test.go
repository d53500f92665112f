package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() error = %v", err)
	}
	if cfg.PersistenceEnabled() || cfg.ArchiveEnabled() {
		t.Fatal("server mode defaults should not enable persistence")
	}
	if !cfg.ServesHTTP() {
		t.Fatal("server mode should serve HTTP")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyview.toml")
	body := `
mode = "full"
log_level = "debug"

[aggregator]
trending_limit = 40
refresh_interval = "2m"

[postgres]
dsn = "postgres://u:p@db:5432/polyview"

[s3]
bucket = "archive"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Aggregator.TrendingLimit != 40 {
		t.Errorf("TrendingLimit = %d, want 40", cfg.Aggregator.TrendingLimit)
	}
	if cfg.Aggregator.RefreshInterval.Duration != 2*time.Minute {
		t.Errorf("RefreshInterval = %v, want 2m", cfg.Aggregator.RefreshInterval.Duration)
	}
	if cfg.Aggregator.EventsLimit != 100 {
		t.Errorf("EventsLimit = %d, want default 100", cfg.Aggregator.EventsLimit)
	}
	if !cfg.PersistenceEnabled() || !cfg.ArchiveEnabled() {
		t.Error("full mode should enable persistence and archive")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("mode = "), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for malformed TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYVIEW_MODE", "refresh")
	t.Setenv("POLYVIEW_REDIS_ENABLED", "true")
	t.Setenv("POLYVIEW_REDIS_ADDR", "cache:6380")
	t.Setenv("POLYVIEW_AGGREGATOR_TRENDING_BOOST", "1.5")
	t.Setenv("POLYVIEW_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("POLYVIEW_NOTIFY_COOLDOWN", "90s")
	t.Setenv("POLYVIEW_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != ModeRefresh || cfg.ServesHTTP() {
		t.Errorf("Mode = %q, want refresh", cfg.Mode)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache:6380" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Aggregator.TrendingBoost != 1.5 {
		t.Errorf("TrendingBoost = %v, want 1.5", cfg.Aggregator.TrendingBoost)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("CORSOrigins = %q", got)
	}
	if cfg.Notify.Cooldown.Duration != 90*time.Second {
		t.Errorf("Cooldown = %v, want 90s", cfg.Notify.Cooldown.Duration)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("unparseable port override should be ignored, got %d", cfg.Server.Port)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trading"
	cfg.Aggregator.MaxGroupSize = 1
	cfg.Aggregator.RefreshInterval.Duration = 0
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{
		`unknown mode "trading"`,
		"max_group_size",
		"refresh_interval",
		"telegram_chat_id",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateFullModeNeedsStorage(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeFull
	cfg.Postgres.Host = ""
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if !strings.Contains(err.Error(), "postgres: host") || !strings.Contains(err.Error(), "s3: bucket") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://user:secret@db/polyview"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	for name, v := range map[string]string{
		"postgres.dsn":   out.Postgres.DSN,
		"s3.secret_key":  out.S3.SecretKey,
		"server.api_key": out.Server.APIKey,
		"notify.discord": out.Notify.DiscordWebhookURL,
	} {
		if v != redacted {
			t.Errorf("%s = %q, want redacted", name, v)
		}
	}
	if out.Redis.Password != "" {
		t.Errorf("empty secret should stay empty, got %q", out.Redis.Password)
	}
	if cfg.Server.APIKey != "api-key" {
		t.Error("RedactedConfig mutated its input")
	}

	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Error("redacted copy shares the events slice")
	}
}
