package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"scalper/config"
	"scalper/internal/calendar"
	"scalper/internal/execution"
	"scalper/internal/live"
	"scalper/internal/logger"
	"scalper/internal/marketdata"
	"scalper/internal/marketdata/binance"
	"scalper/internal/marketdata/replay"
	"scalper/internal/metrics"
	"scalper/internal/notification"
	"scalper/internal/risk"
	redisstore "scalper/internal/store/redis"
	sqlitestore "scalper/internal/store/sqlite"
	"scalper/internal/strategy"
)

var liveCommand = &cli.Command{
	Name:  "live",
	Usage: "paper-trade the strategy on the live Binance feed or a replayed file",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "replay", Usage: "replay bars from a .csv file or SQLite database instead of Binance", TakesFile: true},
		&cli.Float64Flag{Name: "speed", Usage: "replay speed multiple of real time; 0 is as fast as possible"},
		&cli.DurationFlag{Name: "summary", Usage: "interval between summary alerts; 0 disables", Value: time.Hour},
	},
	Action: runLive,
}

func runLive(c *cli.Context) error {
	cfg, log, err := setup(c, "live")
	if err != nil {
		return err
	}
	ctx := c.Context
	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	lc := cfg.Live

	strat, err := strategy.New(cfg.Strategy.Name, cfg.StrategyParams())
	if err != nil {
		return err
	}
	step, err := calendar.ParseTimeframe(lc.Timeframe)
	if err != nil {
		return err
	}
	loc, err := calendar.LoadLocation(cfg.Backtest.Timezone)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()

	policy := cfg.Risk
	client := binance.NewClient(lc.RESTBaseURL, lc.RequestsPerSecond)

	var feed marketdata.Feed
	replaying := c.IsSet("replay")
	if replaying {
		bars, err := loadBars(ctx, c.String("replay"), lc.Symbol, lc.Timeframe)
		if err != nil {
			return err
		}
		feed = replay.New(bars, c.Float64("speed"))
		lc.PollInterval = 0
		lc.WindowBars = 0
		health.SetFeedConnected(true)
	} else {
		applyExchangeFilters(ctx, client, lc.Symbol, &policy)
		feed = liveFeed(ctx, cfg, client, step, m, health)
	}

	rm, err := risk.NewManager(policy)
	if err != nil {
		return err
	}

	deps := live.Deps{
		Feed:     feed,
		Executor: execution.NewPaperExecutor(cfg.FillModel(), policy.Lot),
		Strategy: strat,
		Risk:     rm,
		Metrics:  m,
		Health:   health,
	}

	var pinger metrics.RedisPinger
	if cfg.Storage.RedisAddr != "" {
		store, err := redisstore.New(redisstore.Config{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			OnStateChange: func(_, to redisstore.State) {
				m.RedisCircuitBreakerState.Set(float64(to))
			},
		})
		if err != nil {
			return err
		}
		defer store.Close()
		store.OnBuffer = m.RedisBufferedWrites.Inc
		deps.Store = store
		pinger = store
	}

	var barDB *sql.DB
	var barsDone sync.WaitGroup
	if cfg.Storage.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return err
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Storage.SQLitePath})
		if err != nil {
			return err
		}
		defer w.Close()
		barCh := make(chan sqlitestore.Record, 1024)
		barsDone.Add(1)
		go func() {
			defer barsDone.Done()
			w.Run(context.Background(), barCh)
		}()
		defer barsDone.Wait()
		defer close(barCh)
		deps.Bars = barCh
		barDB = w.DB()
	}

	if cfg.Storage.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalPath), 0o755); err != nil {
			return err
		}
		j, err := execution.NewJournal(cfg.Storage.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		deps.Journal = j
	}

	notifier := notification.NewAsync(buildNotifier(cfg, log), cfg.Notification.QueueSize)
	notifier.OnDrop = func(notification.Alert) { m.DroppedAlerts.Inc() }
	defer notifier.Close()
	deps.Notifier = notifier

	srv := metrics.NewServer(lc.MetricsAddr, reg, health)
	srv.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			log.Warn("metrics server shutdown", "err", err)
		}
	}()
	health.StartLivenessChecker(ctx, pinger, barDB, 15*time.Second)

	driver, err := live.New(live.Options{
		Symbol:          lc.Symbol,
		Timeframe:       lc.Timeframe,
		RunID:           runID,
		WindowBars:      lc.WindowBars,
		PollInterval:    lc.PollInterval,
		SummaryInterval: c.Duration("summary"),
		CooldownBars:    cfg.Execution.CooldownBars,
		InitialEquity:   cfg.Backtest.InitialEquity,
		Location:        loc,
		Logger:          log,
	}, deps)
	if err != nil {
		return err
	}
	if !replaying {
		if err := driver.Restore(ctx); err != nil {
			return err
		}
	}

	err = driver.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("shutdown requested", "equity", driver.State().Equity, "trades", len(driver.Trades()))
		return nil
	}
	return err
}

// applyExchangeFilters copies the symbol's lot, tick and notional rules into
// the policy. The configured policy stays in force when Binance is unreachable.
func applyExchangeFilters(ctx context.Context, client *binance.Client, symbol string, p *risk.Policy) {
	f, err := client.ExchangeFilters(ctx, symbol)
	if err != nil {
		logger.FromContext(ctx).Warn("exchange filters unavailable, using configured lot rules", "err", err)
		return
	}
	p.Lot = f.Lot
	if f.MinNotional > p.MinNotional {
		p.MinNotional = f.MinNotional
	}
	logger.FromContext(ctx).Info("exchange filters applied",
		"step", f.Lot.StepSize, "min_qty", f.Lot.MinQty, "tick", f.Lot.TickSize, "min_notional", p.MinNotional)
}

func liveFeed(ctx context.Context, cfg *config.Config, client *binance.Client, step time.Duration, m *metrics.Metrics, health *metrics.HealthStatus) marketdata.Feed {
	lc := cfg.Live
	if !lc.UseStream {
		return binance.NewRESTFeed(client, lc.Symbol, lc.Timeframe)
	}
	stream := binance.NewStream(lc.WSBaseURL, lc.Symbol, lc.Timeframe, 1024)
	stream.OnReconnect = m.WSReconnects.Inc
	stream.OnStatus = health.SetFeedConnected
	go func() {
		if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.FromContext(ctx).Error("kline stream stopped", "err", err)
		}
	}()
	return binance.NewStreamFeed(client, stream, lc.Symbol, lc.Timeframe, step, lc.WindowBars)
}
