package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Ledger.URL = "http://ledger.local"
	cfg.Source.Models = []ModelConfig{
		{Name: "llama", ID: "meta.llama3-8b-instruct-v1:0"},
		{Name: "nova", ID: "amazon.nova-lite-v1:0"},
	}
	return cfg
}

func TestDefaultsNeedModelsAndLedger(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger: url is required")
	assert.Contains(t, err.Error(), "[[source.models]]")

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestServerModeNeedsNoSource(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.RunsCycles())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Store.Driver = "sqlite"
	cfg.Odds.AccuracyThreshold = decimal.NewFromInt(2)
	cfg.Source.Models = append(cfg.Source.Models, ModelConfig{Name: "llama", ID: "cohere.command"})

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		`unknown driver "sqlite"`,
		"accuracy_threshold",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRunModeSpecifics(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "cycle"
	cfg.Source.Models = append(cfg.Source.Models, ModelConfig{Name: "llama", ID: "cohere.command"})
	assert.ErrorContains(t, cfg.Validate(), `duplicate model name "llama"`)

	cfg = validConfig()
	cfg.Source.Kind = "http"
	assert.ErrorContains(t, cfg.Validate(), "source: url is required")

	cfg = validConfig()
	cfg.Store.Driver = "memory"
	cfg.Store.Accounts = []AccountConfig{{UserID: "u1"}}
	assert.ErrorContains(t, cfg.Validate(), "accounts[0]")

	cfg = validConfig()
	cfg.Archive.Enabled = false
	cfg.S3.Bucket = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "cycle"

[store]
driver = "memory"

[[store.accounts]]
user_id = "u1"
destination = "wallet-1"

[source]
symbol = "BTCUSDT"
timeout = "30s"

[[source.models]]
name = "jamba"
id = "ai21.jamba-1-5-mini-v1:0"

[odds]
window = 5
accuracy_threshold = "0.995"
max_multiplier = 4.5

[ledger]
url = "http://from-file"
`), 0o600))

	t.Setenv("ARENA_LEDGER_URL", "http://from-env")
	t.Setenv("ARENA_ODDS_MARGIN", "0.02")
	t.Setenv("ARENA_BEDROCK_MAX_ATTEMPTS", "5")
	t.Setenv("ARENA_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cycle", cfg.Mode)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, []AccountConfig{{UserID: "u1", Destination: "wallet-1"}}, cfg.Store.Accounts)
	assert.Equal(t, "BTCUSDT", cfg.Source.Symbol)
	assert.Equal(t, "5m", cfg.Source.Interval)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout.Duration)
	assert.Equal(t, []ModelConfig{{Name: "jamba", ID: "ai21.jamba-1-5-mini-v1:0"}}, cfg.Source.Models)
	assert.Equal(t, 5, cfg.Odds.Window)
	assert.Equal(t, "0.995", cfg.Odds.AccuracyThreshold.String())
	assert.Equal(t, "4.5", cfg.Odds.MaxMultiplier.String())
	assert.Equal(t, "0.02", cfg.Odds.Margin.String())
	assert.Equal(t, "http://from-env", cfg.Ledger.URL)
	assert.Equal(t, 5, cfg.Bedrock.MaxAttempts)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pw"
	cfg.Ledger.APIKey = "ledger-key"
	cfg.Server.APIKey = "op-key"
	cfg.Store.Accounts = []AccountConfig{{UserID: "u1", Destination: "wallet-1"}}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Ledger.APIKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "", out.Postgres.DSN)
	assert.Equal(t, "***", out.Store.Accounts[0].Destination)

	assert.Equal(t, "pw", cfg.Postgres.Password)
	assert.Equal(t, "wallet-1", cfg.Store.Accounts[0].Destination)
	assert.Equal(t, cfg.Source.Models, out.Source.Models)
}
