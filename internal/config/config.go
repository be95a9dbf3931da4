package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"p2p-spread-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Limiter  LimiterConfig  `mapstructure:"limiter"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Pairs    PairsConfig    `mapstructure:"pairs"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates optional PostgreSQL connectivity for the audit
// store. An empty DSN disables persistence entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// UpstreamConfig covers the P2P search endpoint.
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Asset          string        `mapstructure:"asset"`
	Rows           int           `mapstructure:"rows"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// LimiterConfig tunes the shared request gate.
type LimiterConfig struct {
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Burst             float64       `mapstructure:"burst"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	CooldownAfter     int           `mapstructure:"cooldown_after"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	Jitter            time.Duration `mapstructure:"jitter"`
}

// ScannerConfig tunes per-side page scanning.
type ScannerConfig struct {
	MaxPages  int           `mapstructure:"max_pages"`
	PagePause time.Duration `mapstructure:"page_pause"`
	Attempts  int           `mapstructure:"attempts"`
	FastProbe bool          `mapstructure:"fast_probe"`
}

// PairConfig declares one monitored (currency, payment-method) unit. Zero
// values fall back to the pair-set defaults.
type PairConfig struct {
	Fiat            string  `mapstructure:"fiat"`
	Method          string  `mapstructure:"method"`
	MinLimit        float64 `mapstructure:"min_limit"`
	MaxLimit        float64 `mapstructure:"max_limit"`
	ProfitThreshold float64 `mapstructure:"profit_threshold"`
	MinAds          int     `mapstructure:"min_ads"`
}

// PairsConfig declares the monitored set and the orchestration cadence.
type PairsConfig struct {
	RefreshInterval        time.Duration      `mapstructure:"refresh_interval"`
	Workers                int                `mapstructure:"workers"`
	Stagger                time.Duration      `mapstructure:"stagger"`
	Discover               bool               `mapstructure:"discover"`
	DiscoverPages          int                `mapstructure:"discover_pages"`
	DefaultMinLimit        float64            `mapstructure:"default_min_limit"`
	DefaultProfitThreshold float64            `mapstructure:"default_profit_threshold"`
	FiatThresholds         map[string]float64 `mapstructure:"fiat_thresholds"`
	MethodThresholds       map[string]float64 `mapstructure:"method_thresholds"`
	Monitored              []PairConfig       `mapstructure:"monitored"`
}

// AlertingConfig defines significance, deduplication and routing.
type AlertingConfig struct {
	Enabled           bool           `mapstructure:"enabled"`
	ResendTTL         time.Duration  `mapstructure:"resend_ttl"`
	AnyChange         bool           `mapstructure:"any_change"`
	MinSpreadDelta    float64        `mapstructure:"min_spread_delta"`
	MinPriceChangePct float64        `mapstructure:"min_price_change_pct"`
	Tolerance         float64        `mapstructure:"tolerance"`
	Telegram          TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	PhotoURL       string        `mapstructure:"photo_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("P2PWATCHER")
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
	v.SetDefault("app.name", "p2pwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("upstream.base_url", "https://p2p.binance.com")
	v.SetDefault("upstream.asset", "USDT")
	v.SetDefault("upstream.rows", 20)
	v.SetDefault("upstream.request_timeout", "10s")
	v.SetDefault("upstream.user_agent", "p2pwatcher/1.0")

	v.SetDefault("limiter.requests_per_minute", 120.0)
	v.SetDefault("limiter.burst", 20.0)
	v.SetDefault("limiter.min_interval", "90ms")
	v.SetDefault("limiter.initial_backoff", "1s")
	v.SetDefault("limiter.max_backoff", "1m")
	v.SetDefault("limiter.cooldown_after", 6)
	v.SetDefault("limiter.cooldown", "5m")
	v.SetDefault("limiter.jitter", "50ms")

	v.SetDefault("scanner.max_pages", 60)
	v.SetDefault("scanner.page_pause", "90ms")
	v.SetDefault("scanner.attempts", 3)
	v.SetDefault("scanner.fast_probe", true)

	v.SetDefault("pairs.refresh_interval", "60s")
	v.SetDefault("pairs.workers", 10)
	v.SetDefault("pairs.stagger", "50ms")
	v.SetDefault("pairs.discover", false)
	v.SetDefault("pairs.discover_pages", 2)
	v.SetDefault("pairs.default_min_limit", 100.0)
	v.SetDefault("pairs.default_profit_threshold", 0.4)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.resend_ttl", "0s")
	v.SetDefault("alerting.any_change", false)
	v.SetDefault("alerting.min_spread_delta", 0.01)
	v.SetDefault("alerting.min_price_change_pct", 0.05)
	v.SetDefault("alerting.tolerance", 0.0001)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Pairs.RefreshInterval <= 0 {
		return fmt.Errorf("pairs.refresh_interval must be greater than zero")
	}
	if c.Pairs.Workers <= 0 {
		return fmt.Errorf("pairs.workers must be greater than zero")
	}
	if len(c.Pairs.Monitored) == 0 {
		return fmt.Errorf("pairs.monitored must declare at least one pair")
	}
	for i, pair := range c.Pairs.Monitored {
		if strings.TrimSpace(pair.Fiat) == "" {
			return fmt.Errorf("pairs.monitored[%d].fiat is required", i)
		}
		if strings.TrimSpace(pair.Method) == "" {
			return fmt.Errorf("pairs.monitored[%d].method is required", i)
		}
	}
	if c.Limiter.RequestsPerMinute <= 0 {
		return fmt.Errorf("limiter.requests_per_minute must be greater than zero")
	}
	if c.Scanner.MaxPages <= 0 {
		return fmt.Errorf("scanner.max_pages must be greater than zero")
	}
	if c.Alerting.Tolerance < 0 {
		return fmt.Errorf("alerting.tolerance cannot be negative")
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
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
