package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			DeviceModel:   "Dell XPS 13",
			SystemVersion: "Windows 11",
			AppVersion:    "5.15.2 x64",
		},
		Webhook: WebhookConfig{
			TimeoutSec: 10,
		},
		Keywords: KeywordsConfig{
			CacheTTL: "5s",
		},
		Backfill: BackfillConfig{
			PageSize:   50,
			RatePerSec: 0.5,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "propsift.db",
		},
		Session: SessionConfig{
			MaxReconnectAttempts: 3,
			HealthCheckInterval:  "60s",
			SendTestMessage:      true,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("PROPSIFT_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("PROPSIFT_TELEGRAM_API_HASH", &c.Telegram.APIHash)
	envStr("PROPSIFT_TELEGRAM_PHONE", &c.Telegram.Phone)
	envStr("PROPSIFT_WEBHOOK_URL", &c.Webhook.URL)
	envStr("PROPSIFT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("PROPSIFT_SQLITE_PATH", &c.Database.SQLitePath)

	if v := os.Getenv("PROPSIFT_TELEGRAM_API_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			c.Telegram.APIID = id
		}
	}
	if v := os.Getenv("PROPSIFT_RELAY_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Relay.ChatID = id
			c.Relay.Enabled = true
		}
	}
	if v := os.Getenv("PROPSIFT_RELAY_TOPIC_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			c.Relay.TopicID = id
		}
	}

	if c.Database.PostgresDSN != "" {
		c.Database.Mode = "managed"
	}
}
