package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// AccountConfig carries display name and credentials for one NaLunch account.
type AccountConfig struct {
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// VendingDevice describes a vending machine known ahead of time so it can be
// offered as a chooser option instead of being scanned.
type VendingDevice struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// NalunchConfig tunes the vendor API client.
type NalunchConfig struct {
	BaseURL string `yaml:"base_url" envconfig:"NALUNCH_BASE_URL"`
	// TokenRefreshInterval is the staleness window after which the access
	// token is refreshed before an authenticated call.
	TokenRefreshInterval time.Duration `yaml:"token_refresh_interval" envconfig:"NALUNCH_TOKEN_REFRESH_INTERVAL"`
}

// FlowConfig tunes the purchase conversation engine.
type FlowConfig struct {
	// MediaDebounce is the idle window after the last photo of a burst
	// before the batch is processed.
	MediaDebounce time.Duration `yaml:"media_debounce" envconfig:"FLOW_MEDIA_DEBOUNCE"`
	// CatalogTTL bounds the age of a cached vending product list.
	CatalogTTL time.Duration `yaml:"catalog_ttl" envconfig:"FLOW_CATALOG_TTL"`
}

// RateLimitConfig throttles per-user update handling.
type RateLimitConfig struct {
	// IntervalMS is the minimum interval between handled updates from the
	// same user; 0 disables the limiter.
	IntervalMS int `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	// ExcludeUpdates lists update kinds exempt from limiting
	// ("message", "callback").
	ExcludeUpdates []string `yaml:"exclude_updates"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// DatabaseConfig holds optional payment history storage settings.
// The bot runs fully in-memory when Host is empty.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Enabled reports whether history storage is configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.Host) != ""
}

// Config aggregates the full bot configuration.
type Config struct {
	Telegram       TelegramConfig  `yaml:"telegram"`
	Webhook        WebhookConfig   `yaml:"webhook"`
	Logging        LoggingConfig   `yaml:"logging"`
	Nalunch        NalunchConfig   `yaml:"nalunch"`
	Flow           FlowConfig      `yaml:"flow"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Metrics        MetricsConfig   `yaml:"metrics"`
	Database       DatabaseConfig  `yaml:"database"`
	Accounts       []AccountConfig `yaml:"accounts"`
	AllowedChatIDs []int64         `yaml:"allowed_chat_ids"`
	VendingDevices []VendingDevice `yaml:"vending_devices"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const defaultBaseURL = "https://api.nalunch.me"

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("at least one nalunch account is required")
	}
	seen := make(map[string]struct{}, len(cfg.Accounts))
	for i, acc := range cfg.Accounts {
		if strings.TrimSpace(acc.Name) == "" {
			return fmt.Errorf("accounts[%d].name is required", i)
		}
		if acc.Username == "" || acc.Password == "" {
			return fmt.Errorf("account %q is missing credentials", acc.Name)
		}
		if _, dup := seen[acc.Name]; dup {
			return fmt.Errorf("duplicate account name %q", acc.Name)
		}
		seen[acc.Name] = struct{}{}
	}
	if len(cfg.AllowedChatIDs) == 0 {
		return fmt.Errorf("allowed_chat_ids must not be empty")
	}
	for i, dev := range cfg.VendingDevices {
		if dev.ID <= 0 {
			return fmt.Errorf("vending_devices[%d].id must be > 0", i)
		}
		if strings.TrimSpace(dev.Name) == "" {
			return fmt.Errorf("vending_devices[%d].name is required", i)
		}
	}

	if strings.TrimSpace(cfg.Nalunch.BaseURL) == "" {
		cfg.Nalunch.BaseURL = defaultBaseURL
	}
	cfg.Nalunch.BaseURL = strings.TrimRight(cfg.Nalunch.BaseURL, "/")
	if cfg.Nalunch.TokenRefreshInterval <= 0 {
		cfg.Nalunch.TokenRefreshInterval = 5 * time.Minute
	}
	if cfg.Flow.MediaDebounce <= 0 {
		cfg.Flow.MediaDebounce = 500 * time.Millisecond
	}
	if cfg.Flow.CatalogTTL <= 0 {
		cfg.Flow.CatalogTTL = time.Hour
	}
	if cfg.Database.Enabled() && cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 4
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	return nil
}

// AllowedChats returns the allow-list as a set for O(1) membership checks.
func (c *Config) AllowedChats() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.AllowedChatIDs))
	for _, id := range c.AllowedChatIDs {
		set[id] = struct{}{}
	}
	return set
}

// DeviceByID looks up a known vending device by its numeric id.
func (c *Config) DeviceByID(id int) (VendingDevice, bool) {
	for _, dev := range c.VendingDevices {
		if dev.ID == id {
			return dev, true
		}
	}
	return VendingDevice{}, false
}
