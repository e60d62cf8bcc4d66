package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper/internal/model"
	"scalper/internal/strategy"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, strategy.EMARSIVWAPName, cfg.Strategy.Name)
	assert.Equal(t, 21, cfg.Lookback())
	assert.Equal(t, "ZECUSDT", cfg.Backtest.Symbol)
	assert.Equal(t, strategy.DefaultParams(), cfg.StrategyParams())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scalper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategy:
  name: rsi_reversion
  fast_ema_period: 5
  slow_ema_period: 13
risk:
  risk_per_trade_usd: 25
  lot:
    step_size: 0.001
execution:
  fee_bps: 2
backtest:
  timeframe: 1h
  timezone: America/New_York
live:
  poll_interval: 2s
`), 0o644))

	t.Setenv("RISK_PER_TRADE_USD", "40")
	t.Setenv("SYMBOL", "BTCUSDT")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, strategy.RSIReversionName, cfg.Strategy.Name)
	assert.Equal(t, 5, cfg.Strategy.FastEMAPeriod)
	assert.Equal(t, 13, cfg.Strategy.SlowEMAPeriod)
	assert.Equal(t, 7, cfg.Strategy.RSIPeriod, "unset keys keep defaults")
	assert.Equal(t, 40.0, cfg.Risk.RiskPerTradeUSD, "environment wins over file")
	assert.Equal(t, 0.001, cfg.Risk.Lot.StepSize)
	assert.Equal(t, 2.0, cfg.FillModel().FeeBps)
	assert.Equal(t, 5.0, cfg.FillModel().SlippageBps)
	assert.Equal(t, "BTCUSDT", cfg.Backtest.Symbol)
	assert.Equal(t, "BTCUSDT", cfg.Live.Symbol)
	assert.Equal(t, 2*time.Second, cfg.Live.PollInterval)

	opts := cfg.SimOptions()
	assert.Equal(t, time.Hour, opts.Timeframe)
	assert.Equal(t, "America/New_York", opts.Location.String())
	assert.Equal(t, 10000.0, opts.InitialEquity)
	assert.Equal(t, 1, opts.CooldownBars)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidEnvValueKeepsFallback(t *testing.T) {
	t.Setenv("FAST_EMA_PERIOD", "fast")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Strategy.FastEMAPeriod)
}

func TestValidate_ReportsConfigurationErrors(t *testing.T) {
	cfg := Default()
	cfg.Strategy.FastEMAPeriod = 30
	cfg.Risk.MaxDrawdownPct = 20
	cfg.Execution.FeeBps = -1
	cfg.Backtest.Timeframe = "7x"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	var ce *model.ConfigurationError
	require.ErrorAs(t, err, &ce)
	for _, field := range []string{"max_drawdown_pct", "fee_bps", "backtest.timeframe"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestValidate_UnknownStrategy(t *testing.T) {
	cfg := Default()
	cfg.Strategy.Name = "martingale"
	assert.ErrorContains(t, cfg.Validate(), "unknown strategy")
	assert.Zero(t, cfg.Lookback())
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("USE_STREAM", "yes")
	assert.True(t, getEnvBool("USE_STREAM", false))
	t.Setenv("USE_STREAM", "maybe")
	assert.False(t, getEnvBool("USE_STREAM", false))
}
