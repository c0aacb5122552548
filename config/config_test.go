package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGetFullConfig(t *testing.T) {
	path := writeConfig(t, `
symbol: TATASTEEL
initial_balance: "100000"
order_size_percent: "30"
max_capital_loss_percent: "2.5"
max_trades_per_10min: 4
risk_window: 10m
stale_signal_threshold: 90s
signal_file: /tmp/warden/trade_signal.json
wal_dir: /tmp/warden/wal
price_source: binance
feeder_interval: 30s
producer_interval: 1m
executor_interval: 5s
governor_interval: 2m
services: [feeder, producer]
postgres:
  host: db.internal
  port: 5433
  user: warden
  password: secret
  database: warden
  sslmode: disable
advisor:
  api_url: https://generativelanguage.googleapis.com/v1beta/openai/chat/completions
  api_key: k-123
  model: gemini-2.0-flash
  timeout: 20s
  max_retries: 2
`)

	cfg, err := Get(path)
	require.NoError(t, err)

	require.Equal(t, "TATASTEEL", cfg.Symbol)
	require.True(t, cfg.InitialBalance.Equal(decimal.NewFromInt(100000)))
	require.True(t, cfg.OrderSizePercent.Equal(decimal.NewFromInt(30)))
	require.True(t, cfg.MaxCapitalLossPercent.Equal(decimal.RequireFromString("2.5")))
	require.Equal(t, 4, cfg.MaxTradesPerWindow)
	require.Equal(t, 10*time.Minute, cfg.RiskWindow)
	require.Equal(t, 90*time.Second, cfg.StaleSignalThreshold)
	require.Equal(t, "binance", cfg.PriceSource)
	require.Equal(t, 30*time.Second, cfg.FeederInterval)
	require.Equal(t, []string{"feeder", "producer"}, cfg.Services)
	require.Equal(t, "db.internal", cfg.Postgres.Host)
	require.Equal(t, 5433, cfg.Postgres.Port)
	require.Equal(t, "gemini-2.0-flash", cfg.Advisor.Model)
	require.Equal(t, 20*time.Second, cfg.Advisor.Timeout)
	require.True(t, cfg.RunsService(ServiceFeeder))
	require.False(t, cfg.RunsService(ServiceExecutor))
}

func TestGetAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
symbol: TATASTEEL
postgres:
  host: localhost
  user: warden
  database: warden
`)

	cfg, err := Get(path)
	require.NoError(t, err)

	require.True(t, cfg.InitialBalance.Equal(decimal.NewFromInt(100000)))
	require.True(t, cfg.OrderSizePercent.Equal(decimal.NewFromInt(25)))
	require.True(t, cfg.MaxCapitalLossPercent.Equal(decimal.NewFromInt(2)))
	require.Equal(t, 5, cfg.MaxTradesPerWindow)
	require.Equal(t, 10*time.Minute, cfg.RiskWindow)
	require.Equal(t, 2*cfg.ProducerInterval, cfg.StaleSignalThreshold)
	require.Equal(t, "randomwalk", cfg.PriceSource)
	require.Equal(t, 5432, cfg.Postgres.Port)
	require.Equal(t, []string{"feeder", "producer", "executor", "governor"}, cfg.Services)
	require.Equal(t, 30*time.Second, cfg.Advisor.Timeout)
	require.Equal(t, 3, cfg.Advisor.MaxRetries)
}

func TestGetAdvisorKeyFromEnv(t *testing.T) {
	t.Setenv("ADVISOR_API_KEY", "env-key")
	path := writeConfig(t, `
symbol: TATASTEEL
postgres:
  host: localhost
`)

	cfg, err := Get(path)
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.Advisor.APIKey)
}

func TestGetValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing symbol", `initial_balance: "1000"`},
		{"zero balance", "symbol: X\ninitial_balance: \"0\""},
		{"order size over 100", "symbol: X\norder_size_percent: \"150\""},
		{"order size below 1", "symbol: X\norder_size_percent: \"0.5\""},
		{"loss percent zero", "symbol: X\nmax_capital_loss_percent: \"0\""},
		{"unknown service", "symbol: X\nservices: [feeder, scalper]"},
		{"unknown price source", "symbol: X\nprice_source: kraken"},
		{"garbage balance", "symbol: X\ninitial_balance: \"lots\""},
		{"garbage duration", "symbol: X\nrisk_window: soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Get(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestGetMissingFile(t *testing.T) {
	_, err := Get(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
