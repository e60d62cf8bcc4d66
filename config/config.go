// Package config loads scalper settings from a YAML file, an optional .env
// file and the process environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"scalper/internal/analytics"
	"scalper/internal/calendar"
	"scalper/internal/execution"
	"scalper/internal/indicator"
	"scalper/internal/model"
	"scalper/internal/risk"
	"scalper/internal/sim"
	"scalper/internal/strategy"
)

// Config is the full application configuration.
type Config struct {
	Strategy     StrategyConfig     `yaml:"strategy"`
	Risk         risk.Policy        `yaml:"risk"`
	Execution    ExecutionConfig    `yaml:"execution"`
	Backtest     BacktestConfig     `yaml:"backtest"`
	Live         LiveConfig         `yaml:"live"`
	Storage      StorageConfig      `yaml:"storage"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// StrategyConfig selects the strategy and its thresholds.
type StrategyConfig struct {
	Name                  string  `yaml:"name"`
	FastEMAPeriod         int     `yaml:"fast_ema_period"`
	SlowEMAPeriod         int     `yaml:"slow_ema_period"`
	RSIPeriod             int     `yaml:"rsi_period"`
	ATRPeriod             int     `yaml:"atr_period"`
	VolMAPeriod           int     `yaml:"vol_ma_period"`
	VolumeSpikeMultiplier float64 `yaml:"volume_spike_multiplier"`
	RSILongThreshold      float64 `yaml:"rsi_long_threshold"`
	RSIShortThreshold     float64 `yaml:"rsi_short_threshold"`
	RSIOversold           float64 `yaml:"rsi_oversold"`
	RSIOverbought         float64 `yaml:"rsi_overbought"`
	StopATRMultiplier     float64 `yaml:"stop_atr_multiplier"`
	TargetATRMultiplier   float64 `yaml:"target_atr_multiplier"`
}

// ExecutionConfig holds fill frictions shared by backtest and paper trading.
type ExecutionConfig struct {
	SlippageBps  float64 `yaml:"slippage_bps"`
	FeeBps       float64 `yaml:"fee_bps"`
	CooldownBars int     `yaml:"cooldown_bars"`
	Leverage     float64 `yaml:"leverage"` // margin only; never enters sizing
}

// BacktestConfig describes a historical run.
type BacktestConfig struct {
	Symbol         string  `yaml:"symbol"`
	Timeframe      string  `yaml:"timeframe"`
	InitialEquity  float64 `yaml:"initial_equity"`
	DataPath       string  `yaml:"data_path"` // .csv or SQLite database
	Timezone       string  `yaml:"timezone"`
	PeriodsPerYear float64 `yaml:"periods_per_year"`
	TradesCSV      string  `yaml:"trades_csv"`
}

// LiveConfig drives the polling loop.
type LiveConfig struct {
	Symbol            string        `yaml:"symbol"`
	Timeframe         string        `yaml:"timeframe"`
	WindowBars        int           `yaml:"window_bars"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RESTBaseURL       string        `yaml:"rest_base_url"`
	WSBaseURL         string        `yaml:"ws_base_url"`
	UseStream         bool          `yaml:"use_stream"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MetricsAddr       string        `yaml:"metrics_addr"`
}

// StorageConfig locates the persistence backends.
type StorageConfig struct {
	SQLitePath    string `yaml:"sqlite_path"`
	JournalPath   string `yaml:"journal_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// NotificationConfig enables the alert channels. Empty credentials disable a channel.
type NotificationConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	WebhookURL     string `yaml:"webhook_url"`
	QueueSize      int    `yaml:"queue_size"`
}

// LoggingConfig sets the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sp := strategy.DefaultParams()
	return &Config{
		Strategy: StrategyConfig{
			Name:                  strategy.EMARSIVWAPName,
			FastEMAPeriod:         sp.Indicators.FastEMA,
			SlowEMAPeriod:         sp.Indicators.SlowEMA,
			RSIPeriod:             sp.Indicators.RSI,
			ATRPeriod:             sp.Indicators.ATR,
			VolMAPeriod:           sp.Indicators.VolumeMA,
			VolumeSpikeMultiplier: sp.VolumeSpikeMultiplier,
			RSILongThreshold:      sp.RSILongThreshold,
			RSIShortThreshold:     sp.RSIShortThreshold,
			RSIOversold:           sp.RSIOversold,
			RSIOverbought:         sp.RSIOverbought,
			StopATRMultiplier:     sp.StopATRMultiplier,
			TargetATRMultiplier:   sp.TargetATRMultiplier,
		},
		Risk: risk.DefaultPolicy(),
		Execution: ExecutionConfig{
			SlippageBps:  5,
			FeeBps:       4,
			CooldownBars: 1,
			Leverage:     5,
		},
		Backtest: BacktestConfig{
			Symbol:         "ZECUSDT",
			Timeframe:      "5m",
			InitialEquity:  10000,
			Timezone:       "UTC",
			PeriodsPerYear: analytics.DefaultOptions().PeriodsPerYear,
		},
		Live: LiveConfig{
			Symbol:            "ZECUSDT",
			Timeframe:         "5m",
			WindowBars:        200,
			PollInterval:      5 * time.Second,
			RESTBaseURL:       "https://fapi.binance.com",
			WSBaseURL:         "wss://fstream.binance.com",
			RequestsPerSecond: 5,
			MetricsAddr:       ":9090",
		},
		Storage: StorageConfig{
			SQLitePath:  "data/bars.db",
			JournalPath: "data/journal.db",
		},
		Notification: NotificationConfig{QueueSize: 64},
		Logging:      LoggingConfig{Level: "info"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), a .env file if present and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// A missing .env is not an error.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	s := &c.Strategy
	s.Name = getEnv("STRATEGY", s.Name)
	s.FastEMAPeriod = getEnvInt("FAST_EMA_PERIOD", s.FastEMAPeriod)
	s.SlowEMAPeriod = getEnvInt("SLOW_EMA_PERIOD", s.SlowEMAPeriod)
	s.RSIPeriod = getEnvInt("RSI_PERIOD", s.RSIPeriod)
	s.ATRPeriod = getEnvInt("ATR_PERIOD", s.ATRPeriod)
	s.VolMAPeriod = getEnvInt("VOL_MA_PERIOD", s.VolMAPeriod)
	s.VolumeSpikeMultiplier = getEnvFloat("VOLUME_SPIKE_MULTIPLIER", s.VolumeSpikeMultiplier)
	s.RSILongThreshold = getEnvFloat("RSI_LONG_THRESHOLD", s.RSILongThreshold)
	s.RSIShortThreshold = getEnvFloat("RSI_SHORT_THRESHOLD", s.RSIShortThreshold)
	s.StopATRMultiplier = getEnvFloat("STOP_ATR_MULTIPLIER", s.StopATRMultiplier)
	s.TargetATRMultiplier = getEnvFloat("TARGET_ATR_MULTIPLIER", s.TargetATRMultiplier)

	r := &c.Risk
	r.RiskPerTradeUSD = getEnvFloat("RISK_PER_TRADE_USD", r.RiskPerTradeUSD)
	r.MaxDailyLossUSD = getEnvFloat("MAX_DAILY_LOSS_USD", r.MaxDailyLossUSD)
	r.MaxDrawdownPct = getEnvFloat("MAX_DRAWDOWN_PCT", r.MaxDrawdownPct)
	r.MinRiskReward = getEnvFloat("MIN_RISK_REWARD", r.MinRiskReward)
	r.MinNotional = getEnvFloat("MIN_NOTIONAL", r.MinNotional)
	r.ATRVolatilityCapPct = getEnvFloat("ATR_VOLATILITY_CAP_PCT", r.ATRVolatilityCapPct)
	r.MaxTradesPerDay = getEnvInt("MAX_TRADES_PER_DAY", r.MaxTradesPerDay)

	e := &c.Execution
	e.SlippageBps = getEnvFloat("SLIPPAGE_BPS", e.SlippageBps)
	e.FeeBps = getEnvFloat("FEE_BPS", e.FeeBps)
	e.CooldownBars = getEnvInt("COOLDOWN_BARS", e.CooldownBars)
	e.Leverage = getEnvFloat("LEVERAGE", e.Leverage)

	if sym := os.Getenv("SYMBOL"); sym != "" {
		c.Backtest.Symbol, c.Live.Symbol = sym, sym
	}
	if tf := os.Getenv("TIMEFRAME"); tf != "" {
		c.Backtest.Timeframe, c.Live.Timeframe = tf, tf
	}
	c.Backtest.InitialEquity = getEnvFloat("INITIAL_EQUITY", c.Backtest.InitialEquity)
	c.Backtest.Timezone = getEnv("TIMEZONE", c.Backtest.Timezone)
	c.Live.MetricsAddr = getEnv("METRICS_ADDR", c.Live.MetricsAddr)
	c.Live.RESTBaseURL = getEnv("BINANCE_REST_URL", c.Live.RESTBaseURL)
	c.Live.WSBaseURL = getEnv("BINANCE_WS_URL", c.Live.WSBaseURL)
	c.Live.UseStream = getEnvBool("USE_STREAM", c.Live.UseStream)

	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.JournalPath = getEnv("JOURNAL_PATH", c.Storage.JournalPath)
	c.Storage.RedisAddr = getEnv("REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.RedisPassword = getEnv("REDIS_PASSWORD", c.Storage.RedisPassword)

	c.Notification.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notification.TelegramToken)
	c.Notification.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notification.TelegramChatID)
	c.Notification.WebhookURL = getEnv("WEBHOOK_URL", c.Notification.WebhookURL)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

// Validate reports every invalid setting as a ConfigurationError.
func (c *Config) Validate() error {
	var errs []error
	if _, err := strategy.New(c.Strategy.Name, c.StrategyParams()); err != nil {
		errs = append(errs, err)
	}
	if err := c.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}
	bad := func(field, reason string) {
		errs = append(errs, &model.ConfigurationError{Field: field, Reason: reason})
	}
	if c.Execution.SlippageBps < 0 {
		bad("slippage_bps", "must be >= 0")
	}
	if c.Execution.FeeBps < 0 {
		bad("fee_bps", "must be >= 0")
	}
	if c.Execution.CooldownBars < 0 {
		bad("cooldown_bars", "must be >= 0")
	}
	if c.Backtest.InitialEquity <= 0 {
		bad("initial_equity", "must be > 0")
	}
	if _, err := calendar.ParseTimeframe(c.Backtest.Timeframe); err != nil {
		bad("backtest.timeframe", err.Error())
	}
	if _, err := calendar.ParseTimeframe(c.Live.Timeframe); err != nil {
		bad("live.timeframe", err.Error())
	}
	if _, err := calendar.LoadLocation(c.Backtest.Timezone); err != nil {
		bad("timezone", err.Error())
	}
	if c.Live.WindowBars < c.Lookback()+1 {
		bad("window_bars", fmt.Sprintf("must cover lookback %d plus the forming bar", c.Lookback()))
	}
	if c.Live.PollInterval <= 0 {
		bad("poll_interval", "must be > 0")
	}
	return errors.Join(errs...)
}

// StrategyParams maps the strategy section onto strategy.Params.
func (c *Config) StrategyParams() strategy.Params {
	s := c.Strategy
	return strategy.Params{
		Indicators: indicator.Params{
			FastEMA:  s.FastEMAPeriod,
			SlowEMA:  s.SlowEMAPeriod,
			RSI:      s.RSIPeriod,
			ATR:      s.ATRPeriod,
			VolumeMA: s.VolMAPeriod,
		},
		VolumeSpikeMultiplier: s.VolumeSpikeMultiplier,
		RSILongThreshold:      s.RSILongThreshold,
		RSIShortThreshold:     s.RSIShortThreshold,
		RSIOversold:           s.RSIOversold,
		RSIOverbought:         s.RSIOverbought,
		StopATRMultiplier:     s.StopATRMultiplier,
		TargetATRMultiplier:   s.TargetATRMultiplier,
	}
}

// Lookback returns the bar count the configured strategy needs, or 0 when
// the strategy section is invalid.
func (c *Config) Lookback() int {
	s, err := strategy.New(c.Strategy.Name, c.StrategyParams())
	if err != nil {
		return 0
	}
	return s.Lookback()
}

// FillModel returns the execution frictions.
func (c *Config) FillModel() execution.FillModel {
	return execution.FillModel{SlippageBps: c.Execution.SlippageBps, FeeBps: c.Execution.FeeBps}
}

// SimOptions returns the backtest engine options. Validate must have passed.
func (c *Config) SimOptions() sim.Options {
	tf, _ := calendar.ParseTimeframe(c.Backtest.Timeframe)
	loc, _ := calendar.LoadLocation(c.Backtest.Timezone)
	return sim.Options{
		InitialEquity: c.Backtest.InitialEquity,
		Fill:          c.FillModel(),
		CooldownBars:  c.Execution.CooldownBars,
		Timeframe:     tf,
		Location:      loc,
	}
}

// AnalyticsOptions returns the metrics calculator options.
func (c *Config) AnalyticsOptions() analytics.Options {
	return analytics.Options{PeriodsPerYear: c.Backtest.PeriodsPerYear}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}
