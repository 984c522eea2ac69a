package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"surplus-watcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	API         APIConfig         `mapstructure:"api"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs polling cadence and the per-entity interval
// planner. Coarse and fine steps must be divisors of 24 hours so every
// entity keeps a tick at its local midnight.
type SchedulerConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	CoarseStep      time.Duration `mapstructure:"coarse_step"`
	FineStep        time.Duration `mapstructure:"fine_step"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxFailures     int           `mapstructure:"max_failures"`
	Concurrency     int           `mapstructure:"concurrency"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MarketplaceConfig covers surplus-marketplace API access.
type MarketplaceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccessToken    string        `mapstructure:"access_token"`
	UserAgent      string        `mapstructure:"user_agent"`
	PageSize       int           `mapstructure:"page_size"`
	MaxPages       int           `mapstructure:"max_pages"`
	RequestsPerMin int           `mapstructure:"requests_per_min"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines notification channels.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
}

// TelegramConfig describes the Telegram bot channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// EmailConfig describes the SMTP channel.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// APIConfig sets the optional read-only ops HTTP server.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SURPLUSWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "surpluswatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.tick_interval", "1m")
	v.SetDefault("scheduler.coarse_step", "6h")
	v.SetDefault("scheduler.fine_step", "30m")
	v.SetDefault("scheduler.retry_backoff", "5m")
	v.SetDefault("scheduler.max_failures", 5)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.poll_timeout", "2m")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73757270))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("marketplace.base_url", "https://api.surplus.example.com")
	v.SetDefault("marketplace.user_agent", "surpluswatcher/1.0")
	v.SetDefault("marketplace.page_size", 400)
	v.SetDefault("marketplace.max_pages", 20)
	v.SetDefault("marketplace.requests_per_min", 6)
	v.SetDefault("marketplace.request_timeout", "30s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.port", 587)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen_addr", ":8080")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values. The
// step divisor rules are enforced where the interval planner is built.
func (c *Config) Validate() error {
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be greater than zero")
	}
	if c.Scheduler.CoarseStep <= 0 {
		return fmt.Errorf("scheduler.coarse_step must be greater than zero")
	}
	if c.Scheduler.FineStep <= 0 {
		return fmt.Errorf("scheduler.fine_step must be greater than zero")
	}
	if c.Scheduler.RetryBackoff <= 0 {
		return fmt.Errorf("scheduler.retry_backoff must be greater than zero")
	}
	if c.Scheduler.MaxFailures <= 0 {
		return fmt.Errorf("scheduler.max_failures must be greater than zero")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be greater than zero")
	}
	if c.Scheduler.PollTimeout <= 0 {
		return fmt.Errorf("scheduler.poll_timeout must be greater than zero")
	}
	if c.Marketplace.PageSize <= 0 || c.Marketplace.PageSize > 400 {
		return fmt.Errorf("marketplace.page_size must be within (0, 400]")
	}
	if c.Marketplace.MaxPages <= 0 {
		return fmt.Errorf("marketplace.max_pages must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.Host == "" {
			return fmt.Errorf("alerting.email.host is required when email is enabled")
		}
		if c.Alerting.Email.From == "" {
			return fmt.Errorf("alerting.email.from is required when email is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
