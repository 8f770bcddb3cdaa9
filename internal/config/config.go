// Package config loads an explicit, non-global Config struct. Generalizes
// listmonk's package-level `ko` koanf instance and `loadTenantConfig`
// (cmd/tenant_integration.go) into a loader that returns a value instead
// of mutating global state, per the "no singletons" design note.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config is the full process configuration. Every field has a koanf tag
// so it can be populated from TOML file + OUTREACH_-prefixed env vars,
// the same two-source layering listmonk's loadTenantConfig used.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Poller   PollerConfig   `koanf:"poller"`
	Retry    RetryConfig    `koanf:"retry"`
	Email    EmailConfig    `koanf:"email"`
	Call     CallConfig     `koanf:"call"`
	LinkedIn LinkedInConfig `koanf:"linkedin"`
	Content  ContentConfig  `koanf:"content"`
	Alert    AlertConfig    `koanf:"alert"`
	LogDev   bool           `koanf:"log_dev"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// PollerConfig mirrors the shape of listmonk's manager.Config
// (BatchSize, Concurrency, ScanInterval) generalized to the per-channel
// queue poller.
type PollerConfig struct {
	ScanInterval     time.Duration `koanf:"scan_interval"`
	BatchSize        int           `koanf:"batch_size"`
	Concurrency      int           `koanf:"concurrency"` // bound P, per (company, channel)
	LeaseTTL         time.Duration `koanf:"lease_ttl"`
	ReminderInterval time.Duration `koanf:"reminder_interval"`
}

type RetryConfig struct {
	BaseDelay      time.Duration            `koanf:"base_delay"`
	Multiplier     float64                  `koanf:"multiplier"`
	MaxRetries     int                      `koanf:"max_retries"`
	ChannelOverride map[string]time.Duration `koanf:"-"`
}

type EmailConfig struct {
	FromAddress      string        `koanf:"from_address"`
	TrackingEnabled  bool          `koanf:"tracking_enabled"`
	BaseDelay        time.Duration `koanf:"base_delay"` // 2m default per spec
	UnsubscribeURL   string        `koanf:"unsubscribe_url"`
	// TrackingBaseURL prefixes the open-tracking pixel URL embedded in
	// outgoing HTML; empty disables the pixel regardless of TrackingEnabled.
	TrackingBaseURL  string        `koanf:"tracking_base_url"`
	// ReplyToDomain builds each send's Reply-To address as log-<id>@<domain>,
	// so an inbound reply webhook can attribute the reply to its log row.
	ReplyToDomain    string        `koanf:"reply_to_domain"`
}

type CallConfig struct {
	ProviderBaseURL string        `koanf:"provider_base_url"`
	APIKey          string        `koanf:"api_key"`
	Timeout         time.Duration `koanf:"timeout"`
}

type LinkedInConfig struct {
	APIBaseURL          string        `koanf:"api_base_url"`
	IntraSendDelay      time.Duration `koanf:"intra_send_delay"` // 20s default per spec
	MaxInvitesPerDay    int           `koanf:"max_invites_per_day"`
}

type ContentConfig struct {
	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	Model           string `koanf:"model"`
}

// AlertConfig configures where operator alerts (spec.md §7 "emit
// operator alert" on authentication failures) go out. An empty
// SlackWebhookURL disables delivery.
type AlertConfig struct {
	SlackWebhookURL string `koanf:"slack_webhook_url"`
}

// Load reads defaults, then a TOML file at path (if non-empty), then
// OUTREACH_-prefixed environment variables, then any flags set on fs,
// each layer overriding the previous one — the same file-then-env
// layering as listmonk's loadTenantConfig, extended with a flags
// layer for CLI overrides. fs may be nil when no flags apply.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(defaultsProvider(), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("OUTREACH_", ".", envKeyMap), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// envKeyMap converts OUTREACH_POLLER__BATCH_SIZE into poller.batch_size,
// the same double-underscore-as-nesting convention listmonk's other
// pack siblings use for koanf's env provider.
func envKeyMap(s string) string {
	s = strings.TrimPrefix(s, "OUTREACH_")
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

func defaultsProvider() koanf.Provider {
	return confmap.Provider(map[string]any{
		"poller.scan_interval":      "5s",
		"poller.batch_size":         50,
		"poller.concurrency":        5,
		"poller.lease_ttl":          "5m",
		"poller.reminder_interval":  "1h",
		"retry.base_delay":          "1m",
		"retry.multiplier":          2.0,
		"retry.max_retries":         3,
		"email.base_delay":          "2m",
		"email.tracking_enabled":    true,
		"linkedin.intra_send_delay": "20s",
		"linkedin.max_invites_per_day": 20,
	})
}
