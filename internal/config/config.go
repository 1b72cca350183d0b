// Package config defines the arena configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by ARENA_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Store     StoreConfig     `toml:"store"`
	Source    SourceConfig    `toml:"source"`
	Binance   BinanceConfig   `toml:"binance"`
	Bedrock   BedrockConfig   `toml:"bedrock"`
	Odds      OddsConfig      `toml:"odds"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis backs the candle
// cache, the settlement event bus and the API rate limiter.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// StoreConfig selects the persistence backend. The memory driver keeps
// everything in process and seeds payout destinations from Accounts.
type StoreConfig struct {
	Driver   string          `toml:"driver"`
	Accounts []AccountConfig `toml:"accounts"`
}

// AccountConfig maps a user to a ledger destination.
type AccountConfig struct {
	UserID      string `toml:"user_id"`
	Destination string `toml:"destination"`
}

// SourceConfig selects where prediction cycles come from. Kind "models"
// asks the configured models directly; kind "http" fetches a finished cycle
// from URL.
type SourceConfig struct {
	Kind          string        `toml:"kind"`
	URL           string        `toml:"url"`
	APIKey        string        `toml:"api_key"`
	Timeout       duration      `toml:"timeout"`
	Symbol        string        `toml:"symbol"`
	Interval      string        `toml:"interval"`
	Limit         int           `toml:"limit"`
	PromptCandles int           `toml:"prompt_candles"`
	Concurrency   int           `toml:"concurrency"`
	MaxTokens     int           `toml:"max_tokens"`
	Temperature   float64       `toml:"temperature"`
	TopP          float64       `toml:"top_p"`
	TopK          int           `toml:"top_k"`
	Models        []ModelConfig `toml:"models"`
}

// ModelConfig is one competing model. Name is what bids refer to; ID is the
// hosted model identifier whose prefix selects the request codec.
type ModelConfig struct {
	Name string `toml:"name"`
	ID   string `toml:"id"`
}

// BinanceConfig configures the market data client.
type BinanceConfig struct {
	BaseURL    string  `toml:"base_url"`
	RatePerSec float64 `toml:"rate_per_sec"`
}

// BedrockConfig configures the model runtime client. Empty keys fall back
// to the default AWS credential chain.
type BedrockConfig struct {
	Region      string   `toml:"region"`
	Endpoint    string   `toml:"endpoint"`
	AccessKey   string   `toml:"access_key"`
	SecretKey   string   `toml:"secret_key"`
	Timeout     duration `toml:"timeout"`
	MaxAttempts int      `toml:"max_attempts"`
	RatePerSec  float64  `toml:"rate_per_sec"`
}

// OddsConfig holds the payout formula parameters.
type OddsConfig struct {
	Window            int             `toml:"window"`
	Margin            decimal.Decimal `toml:"margin"`
	MaxMultiplier     decimal.Decimal `toml:"max_multiplier"`
	AccuracyThreshold decimal.Decimal `toml:"accuracy_threshold"`
}

// LedgerConfig configures the payout ledger client and the dispatcher.
type LedgerConfig struct {
	URL         string   `toml:"url"`
	APIKey      string   `toml:"api_key"`
	RatePerSec  float64  `toml:"rate_per_sec"`
	Timeout     duration `toml:"timeout"`
	Concurrency int      `toml:"concurrency"`
}

// SchedulerConfig controls the cron-driven cycle runner.
type SchedulerConfig struct {
	Cron         string   `toml:"cron"`
	CycleTimeout duration `toml:"cycle_timeout"`
}

// ArchiveConfig controls settlement report archiving to S3.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Prefix  string `toml:"prefix"`
}

// duration wraps time.Duration so TOML strings like "5m" or "30s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. APIKey protects the operator
// triggers; read endpoints stay open.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RateLimitPerMin   int      `toml:"rate_limit_per_min"`
	ShutdownTimeout   duration `toml:"shutdown_timeout"`
	ReadHeaderTimeout duration `toml:"read_header_timeout"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values in
// config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arena",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arena-reports",
			ForcePathStyle: true,
		},
		Store: StoreConfig{Driver: "postgres"},
		Source: SourceConfig{
			Kind:          "models",
			Timeout:       duration{90 * time.Second},
			Symbol:        "DOGEUSDT",
			Interval:      "5m",
			Limit:         20,
			PromptCandles: 10,
			MaxTokens:     10,
			Temperature:   0.7,
			TopP:          0.9,
			TopK:          50,
		},
		Binance: BinanceConfig{
			BaseURL:    "https://api.binance.com",
			RatePerSec: 20,
		},
		Bedrock: BedrockConfig{
			Region:      "us-east-1",
			Timeout:     duration{60 * time.Second},
			MaxAttempts: 3,
			RatePerSec:  5,
		},
		Odds: OddsConfig{
			Window:            10,
			Margin:            decimal.RequireFromString("0.01"),
			MaxMultiplier:     decimal.NewFromInt(5),
			AccuracyThreshold: decimal.RequireFromString("0.998"),
		},
		Ledger: LedgerConfig{
			RatePerSec:  10,
			Timeout:     duration{15 * time.Second},
			Concurrency: 4,
		},
		Scheduler: SchedulerConfig{
			Cron:         "*/5 * * * *",
			CycleTimeout: duration{4 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Prefix:  "settlements",
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin:   120,
			ShutdownTimeout:   duration{10 * time.Second},
			ReadHeaderTimeout: duration{5 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"cycle_failed", "payouts_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"cycle":     true,
	"scheduler": true,
	"server":    true,
	"full":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsCycles reports whether the mode produces rounds, as opposed to only
// serving the query surface.
func (c *Config) RunsCycles() bool {
	return c.Mode == "cycle" || c.Mode == "scheduler" || c.Mode == "full"
}

// Validate checks Config for invalid or missing values and returns every
// problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: cycle, scheduler, server, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		for i, a := range c.Store.Accounts {
			if a.UserID == "" || a.Destination == "" {
				add("store: accounts[%d] needs user_id and destination", i)
			}
		}
	default:
		add("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty when archive is enabled")
		}
	}

	if c.RunsCycles() {
		errs = append(errs, c.validateSource()...)
		if c.Ledger.URL == "" {
			add("ledger: url is required for mode %s", c.Mode)
		}
		if c.Ledger.Concurrency < 1 {
			add("ledger: concurrency must be >= 1")
		}
	}

	if c.Odds.Window < 1 {
		add("odds: window must be >= 1")
	}
	if c.Odds.Margin.IsNegative() {
		add("odds: margin must not be negative")
	}
	if !c.Odds.MaxMultiplier.IsPositive() {
		add("odds: max_multiplier must be > 0")
	}
	if !c.Odds.AccuracyThreshold.IsPositive() || c.Odds.AccuracyThreshold.GreaterThan(decimal.NewFromInt(1)) {
		add("odds: accuracy_threshold must be in (0, 1]")
	}

	if (c.Mode == "scheduler" || c.Mode == "full") && c.Scheduler.Cron == "" {
		add("scheduler: cron must not be empty for mode %s", c.Mode)
	}

	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func (c *Config) validateSource() []error {
	var errs []error
	switch c.Source.Kind {
	case "http":
		if c.Source.URL == "" {
			errs = append(errs, errors.New("source: url is required for kind http"))
		}
	case "models":
		if c.Source.Symbol == "" || c.Source.Interval == "" {
			errs = append(errs, errors.New("source: symbol and interval are required"))
		}
		if c.Source.Limit < 1 {
			errs = append(errs, errors.New("source: limit must be >= 1"))
		}
		if len(c.Source.Models) == 0 {
			errs = append(errs, errors.New("source: at least one [[source.models]] entry is required"))
		}
		seen := make(map[string]bool, len(c.Source.Models))
		for i, m := range c.Source.Models {
			if m.Name == "" || m.ID == "" {
				errs = append(errs, fmt.Errorf("source: models[%d] needs name and id", i))
			}
			if seen[m.Name] {
				errs = append(errs, fmt.Errorf("source: duplicate model name %q", m.Name))
			}
			seen[m.Name] = true
		}
		if c.Bedrock.Region == "" {
			errs = append(errs, errors.New("bedrock: region must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("source: unknown kind %q (valid: models, http)", c.Source.Kind))
	}
	return errs
}
