// Package config loads the PropSift configuration: a JSON5 file overlaid
// with environment variables. Secrets (bot token, webhook URL, postgres
// DSN) come from the environment only and are never written to the file.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Relay    RelayConfig    `json:"relay"`
	Webhook  WebhookConfig  `json:"webhook,omitempty"`
	Keywords KeywordsConfig `json:"keywords,omitempty"`
	Backfill BackfillConfig `json:"backfill,omitempty"`
	Database DatabaseConfig `json:"database,omitempty"`
	Session  SessionConfig  `json:"session,omitempty"`
}

// TelegramConfig configures the transport. Token is env-only
// (PROPSIFT_TELEGRAM_TOKEN). The device fields are the fingerprint
// presented to the remote side on connect; user-session transports use
// them, the Bot API client ignores them.
type TelegramConfig struct {
	Token         string `json:"-"`
	Proxy         string `json:"proxy,omitempty"`
	APIID         int    `json:"api_id,omitempty"`
	APIHash       string `json:"-"` // env PROPSIFT_TELEGRAM_API_HASH
	Phone         string `json:"-"` // env PROPSIFT_TELEGRAM_PHONE
	DeviceModel   string `json:"device_model,omitempty"`
	SystemVersion string `json:"system_version,omitempty"`
	AppVersion    string `json:"app_version,omitempty"`
}

// RelayConfig is the supergroup-topic sink matched messages are relayed to.
type RelayConfig struct {
	Enabled bool  `json:"enabled"`
	ChatID  int64 `json:"chat_id"`
	TopicID int   `json:"topic_id,omitempty"`
}

// WebhookConfig is the outbound HTTP sink. URL is env-only
// (PROPSIFT_WEBHOOK_URL); an empty URL disables the sink.
type WebhookConfig struct {
	URL        string `json:"-"`
	TimeoutSec int    `json:"timeout_sec,omitempty"` // default 10
}

// KeywordsConfig tunes the keyword engine.
type KeywordsConfig struct {
	// CacheTTL is how long a term snapshot may be reused before the
	// store is consulted again. Default "5s".
	CacheTTL string `json:"cache_ttl,omitempty"`
	// RequiredCategories, when set, turns matching into a conjunction:
	// at least one positive hit per listed category. Empty = classic
	// single-set behavior.
	RequiredCategories []string `json:"required_categories,omitempty"`
}

// CacheTTLDuration returns the parsed TTL with the default applied.
func (k KeywordsConfig) CacheTTLDuration() time.Duration {
	if k.CacheTTL != "" {
		if d, err := time.ParseDuration(k.CacheTTL); err == nil && d > 0 {
			return d
		}
	}
	return 5 * time.Second
}

// BackfillConfig configures scheduled historical sweeps.
type BackfillConfig struct {
	// Schedule is a cron expression; empty disables the sweep.
	Schedule string `json:"schedule,omitempty"`
	// PageSize is messages fetched per history request. Default 50.
	PageSize int `json:"page_size,omitempty"`
	// RatePerSec paces per-message processing during a sweep. Default 0.5.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// DatabaseConfig selects the storage backend. PostgresDSN is env-only
// (PROPSIFT_POSTGRES_DSN); when set, mode flips to managed.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// IsManagedMode reports whether the managed (postgres) backend is active.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	MaxReconnectAttempts int    `json:"max_reconnect_attempts,omitempty"` // default 3
	HealthCheckInterval  string `json:"health_check_interval,omitempty"`  // default "60s"
	// SendTestMessage sends a self-message after connect to prove the
	// session end to end.
	SendTestMessage bool `json:"send_test_message,omitempty"`
}

// HealthCheckIntervalDuration returns the parsed interval with the
// default applied.
func (s SessionConfig) HealthCheckIntervalDuration() time.Duration {
	if s.HealthCheckInterval != "" {
		if d, err := time.ParseDuration(s.HealthCheckInterval); err == nil && d > 0 {
			return d
		}
	}
	return 60 * time.Second
}
