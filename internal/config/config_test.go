package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Mode != "standalone" || cfg.Database.SQLitePath != "propsift.db" {
		t.Errorf("database defaults = %q %q", cfg.Database.Mode, cfg.Database.SQLitePath)
	}
	if got := cfg.Keywords.CacheTTLDuration(); got != 5*time.Second {
		t.Errorf("cache TTL default = %v", got)
	}
	if got := cfg.Session.HealthCheckIntervalDuration(); got != time.Minute {
		t.Errorf("health interval default = %v", got)
	}
	if !cfg.Session.SendTestMessage {
		t.Error("test message should default on")
	}
}

func TestLoad_JSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// JSON5: comments and trailing commas allowed.
	content := `{
		// relay target
		relay: { enabled: true, chat_id: -1001234567890, topic_id: 7, },
		keywords: { cache_ttl: "30s" },
		backfill: { schedule: "0 * * * *", page_size: 25 },
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Relay.Enabled || cfg.Relay.ChatID != -1001234567890 || cfg.Relay.TopicID != 7 {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if got := cfg.Keywords.CacheTTLDuration(); got != 30*time.Second {
		t.Errorf("cache TTL = %v", got)
	}
	if cfg.Backfill.Schedule != "0 * * * *" || cfg.Backfill.PageSize != 25 {
		t.Errorf("backfill = %+v", cfg.Backfill)
	}
	// Untouched sections keep their defaults.
	if cfg.Backfill.RatePerSec != 0.5 {
		t.Errorf("rate per sec = %v, want default", cfg.Backfill.RatePerSec)
	}
}

func TestLoad_EnvOverridesAndManagedMode(t *testing.T) {
	t.Setenv("PROPSIFT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("PROPSIFT_POSTGRES_DSN", "postgres://localhost/propsift")
	t.Setenv("PROPSIFT_RELAY_CHAT_ID", "-1009999999999")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.IsManagedMode() {
		t.Error("postgres DSN must flip the backend to managed mode")
	}
	if !cfg.Relay.Enabled || cfg.Relay.ChatID != -1009999999999 {
		t.Errorf("relay env override = %+v", cfg.Relay)
	}
}

func TestSecretsNeverSerialized(t *testing.T) {
	// Struct tags must keep secrets out of any file the config is
	// round-tripped through.
	cfg := Default()
	cfg.Telegram.Token = "123:abc"
	cfg.Webhook.URL = "https://example.com/hook"
	cfg.Database.PostgresDSN = "postgres://u:p@h/db"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"123:abc", "example.com/hook", "postgres://u:p@h/db"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("serialized config leaks secret %q", secret)
		}
	}
}
