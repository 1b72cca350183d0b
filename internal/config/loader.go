package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load merges the TOML file at path (if any) over Defaults, loads a .env
// file when present, and applies ARENA_* overrides. The result is not
// validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and endpoints at deploy
// time without editing the TOML file. Unset or empty variables are ignored.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARENA_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARENA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARENA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARENA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARENA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARENA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARENA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARENA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARENA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARENA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARENA_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARENA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARENA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARENA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARENA_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ARENA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARENA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARENA_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARENA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARENA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARENA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARENA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARENA_S3_FORCE_PATH_STYLE")

	// ── Store / source ──
	setStr(&cfg.Store.Driver, "ARENA_STORE_DRIVER")
	setStr(&cfg.Source.Kind, "ARENA_SOURCE_KIND")
	setStr(&cfg.Source.URL, "ARENA_SOURCE_URL")
	setStr(&cfg.Source.APIKey, "ARENA_SOURCE_API_KEY")
	setDuration(&cfg.Source.Timeout, "ARENA_SOURCE_TIMEOUT")
	setStr(&cfg.Source.Symbol, "ARENA_SOURCE_SYMBOL")
	setStr(&cfg.Source.Interval, "ARENA_SOURCE_INTERVAL")

	// ── Binance / Bedrock ──
	setStr(&cfg.Binance.BaseURL, "ARENA_BINANCE_BASE_URL")
	setStr(&cfg.Bedrock.Region, "ARENA_BEDROCK_REGION")
	setStr(&cfg.Bedrock.Endpoint, "ARENA_BEDROCK_ENDPOINT")
	setStr(&cfg.Bedrock.AccessKey, "ARENA_BEDROCK_ACCESS_KEY")
	setStr(&cfg.Bedrock.SecretKey, "ARENA_BEDROCK_SECRET_KEY")
	setInt(&cfg.Bedrock.MaxAttempts, "ARENA_BEDROCK_MAX_ATTEMPTS")

	// ── Odds ──
	setInt(&cfg.Odds.Window, "ARENA_ODDS_WINDOW")
	setDecimal(&cfg.Odds.Margin, "ARENA_ODDS_MARGIN")
	setDecimal(&cfg.Odds.MaxMultiplier, "ARENA_ODDS_MAX_MULTIPLIER")
	setDecimal(&cfg.Odds.AccuracyThreshold, "ARENA_ODDS_ACCURACY_THRESHOLD")

	// ── Ledger ──
	setStr(&cfg.Ledger.URL, "ARENA_LEDGER_URL")
	setStr(&cfg.Ledger.APIKey, "ARENA_LEDGER_API_KEY")
	setFloat64(&cfg.Ledger.RatePerSec, "ARENA_LEDGER_RATE_PER_SEC")
	setInt(&cfg.Ledger.Concurrency, "ARENA_LEDGER_CONCURRENCY")

	// ── Scheduler / archive ──
	setStr(&cfg.Scheduler.Cron, "ARENA_SCHEDULER_CRON")
	setDuration(&cfg.Scheduler.CycleTimeout, "ARENA_SCHEDULER_CYCLE_TIMEOUT")
	setBool(&cfg.Archive.Enabled, "ARENA_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "ARENA_ARCHIVE_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARENA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARENA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARENA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARENA_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "ARENA_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARENA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARENA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARENA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARENA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARENA_MODE")
	setStr(&cfg.LogLevel, "ARENA_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
