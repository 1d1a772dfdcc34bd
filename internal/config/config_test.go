package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/katz-bot/internal/breaker"
	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/ratelimit"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, FeedPoll, cfg.PriceFeed.Mode)
	assert.Equal(t, 2*time.Second, cfg.PriceFeed.PollInterval)
	assert.Equal(t, ":9090", cfg.MetricsAddr)

	fc, err := cfg.FlipperSettings()
	require.NoError(t, err)
	assert.Equal(t, domain.NetworkSolana, fc.Network)
	assert.Equal(t, 3, fc.Monitor.MaxPositions)
	assert.Equal(t, 15*time.Minute, fc.Monitor.TimeLimit)
	assert.Equal(t, "0.1", fc.Monitor.BuyAmount.String())
	assert.Equal(t, 500*time.Millisecond, fc.Intake.Base)

	breakers := cfg.BreakerConfigs()
	assert.Equal(t, 10, breakers[breaker.PumpFun].FailureThreshold)
	assert.Equal(t, 5*time.Second, breakers[breaker.PumpFun].ResetTimeout)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, "katz.yaml", `
networks:
  solana:
    rpc_urls: ["https://api.mainnet-beta.solana.com"]
    gas_estimate: 0.002
  base:
    rpc_urls: ["https://mainnet.base.org"]
breakers:
  pumpfun:
    failure_threshold: 4
rate_limits:
  trades:
    window: 1m
    max: 10
flipper:
  network: base
  max_positions: 5
  profit_target: 20
  time_limit: 5m
storage:
  driver: sqlite
  dsn: /tmp/katz.db
price_feed:
  mode: ws
  ws_url: wss://prices.example.com/ws
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	urls := cfg.ChainURLs()
	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, urls[domain.NetworkSolana])
	assert.Len(t, urls, 2)

	pf := cfg.BreakerConfigs()[breaker.PumpFun]
	assert.Equal(t, 4, pf.FailureThreshold)
	assert.Equal(t, 5*time.Second, pf.ResetTimeout, "unset fields keep the built-in value")
	assert.Equal(t, 3, pf.HalfOpenRetries)

	limits := cfg.RateLimitConfigs()
	assert.Equal(t, ratelimit.Config{Window: time.Minute, Max: 10}, limits[ratelimit.ActionTrades])
	assert.Equal(t, 3000, limits[ratelimit.ActionMessages].Max)

	fc, err := cfg.FlipperSettings()
	require.NoError(t, err)
	assert.Equal(t, domain.NetworkBase, fc.Network)
	assert.Equal(t, 5, fc.Monitor.MaxPositions)
	assert.Equal(t, 20.0, fc.Monitor.ProfitTarget)
	assert.Equal(t, 15.0, fc.Monitor.StopLoss)

	qc := cfg.QueueSettings()
	assert.Equal(t, "0.002", qc.GasEstimates[domain.NetworkSolana].String())
	assert.Equal(t, "0.005", qc.GasEstimates[domain.NetworkEthereum].String())
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("KATZ_STORAGE_DRIVER", "postgres")
	t.Setenv("KATZ_STORAGE_DSN", "postgres://katz@localhost/katz")
	t.Setenv("KATZ_SOLANA_RPC_URLS", "https://a.example.com, https://b.example.com,")
	t.Setenv("KATZ_FLIPPER_MAX_POSITIONS", "7")
	t.Setenv("KATZ_DEBUG_LOGGING", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://katz@localhost/katz", cfg.Storage.DSN)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.ChainURLs()[domain.NetworkSolana])
	assert.Equal(t, 7, cfg.Flipper.MaxPositions)
	assert.True(t, cfg.Log.Debug)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "storage:\n  driver: redis\n"},
		{"dsn required", "storage:\n  driver: mongo\n"},
		{"unknown network", "networks:\n  tron:\n    rpc_urls: [\"https://x.example.com\"]\n"},
		{"bad rpc scheme", "networks:\n  solana:\n    rpc_urls: [\"ftp://x.example.com\"]\n"},
		{"zero threshold", "breakers:\n  pumpfun:\n    failure_threshold: -1\n"},
		{"half open retries", "breakers:\n  pumpfun:\n    half_open_retries: -2\n"},
		{"negative reset", "breakers:\n  openai:\n    reset_timeout: -1s\n"},
		{"zero rate max", "rate_limits:\n  trades:\n    window: 1m\n    max: 0\n"},
		{"zero rate window", "rate_limits:\n  trades:\n    max: 5\n"},
		{"ws feed without url", "price_feed:\n  mode: ws\n"},
		{"ws feed wrong scheme", "price_feed:\n  mode: ws\n  ws_url: https://x.example.com\n"},
		{"unknown feed", "price_feed:\n  mode: push\n"},
		{"telegram half set", "telegram:\n  token: abc\n"},
		{"bad flipper", "flipper:\n  stop_loss: 150\n"},
		{"bad flipper network", "flipper:\n  network: tron\n"},
		{"slippage", "trading:\n  slippage_bps: 10000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "katz.yaml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
