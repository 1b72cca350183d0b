package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/modelarena/internal/config"
)

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Store.Accounts = []config.AccountConfig{{UserID: "u1", Destination: "acct-1"}}
	cfg.Redis.Enabled = false
	cfg.Archive.Enabled = false
	cfg.Source.Kind = "http"
	cfg.Source.URL = "http://predictor.local/cycle"
	cfg.Ledger.URL = "http://ledger.local"
	return &cfg
}

func TestWire_MemoryStack(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), logger)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Rounds)
	assert.NotNil(t, deps.Candles)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Locks)
	assert.Nil(t, deps.Archive)
	assert.NotNil(t, deps.Settlement)
	assert.Empty(t, deps.Health)

	dest, err := deps.Accounts.GetDestinations(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u1": "acct-1"}, dest)
}

func TestWire_ServerModeWithoutLedger(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "server"
	cfg.Ledger.URL = ""

	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, deps.Settlement)
}

func TestWire_CycleModeRequiresLedger(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "cycle"
	cfg.Ledger.URL = ""

	_, _, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "ledger url")
}

func TestWire_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Driver = "sqlite"

	_, _, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "unknown store driver")
}
