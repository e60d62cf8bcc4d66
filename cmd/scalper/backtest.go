package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"scalper/config"
	"scalper/internal/analytics"
	"scalper/internal/execution"
	"scalper/internal/logger"
	"scalper/internal/model"
	"scalper/internal/risk"
	"scalper/internal/sim"
	"scalper/internal/store/csvbars"
	sqlitestore "scalper/internal/store/sqlite"
	"scalper/internal/strategy"
)

var dataFlag = &cli.StringFlag{
	Name:      "data",
	Usage:     "bar source: a .csv file or a SQLite database (default backtest.data_path)",
	TakesFile: true,
}

var backtestCommand = &cli.Command{
	Name:  "backtest",
	Usage: "replay historical bars through the strategy and risk manager",
	Flags: []cli.Flag{
		dataFlag,
		&cli.StringFlag{Name: "trades-csv", Usage: "write the trade log to this CSV file"},
		&cli.BoolFlag{Name: "journal", Usage: "record trades in the SQLite journal", Value: true},
		&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
	},
	Action: runBacktest,
}

// backtestSetup builds the engine and loads the bars of a backtest.
func backtestSetup(c *cli.Context) (*config.Config, *sim.Engine, []model.Bar, error) {
	cfg, log, err := setup(c, "backtest")
	if err != nil {
		return nil, nil, nil, err
	}
	strat, err := strategy.New(cfg.Strategy.Name, cfg.StrategyParams())
	if err != nil {
		return nil, nil, nil, err
	}
	rm, err := risk.NewManager(cfg.Risk)
	if err != nil {
		return nil, nil, nil, err
	}

	path := cfg.Backtest.DataPath
	if c.IsSet(dataFlag.Name) {
		path = c.String(dataFlag.Name)
	}
	bars, err := loadBars(c.Context, path, cfg.Backtest.Symbol, cfg.Backtest.Timeframe)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("bars loaded", "path", path, "bars", len(bars), "strategy", strat.Name())

	opts := cfg.SimOptions()
	opts.Logger = log
	return cfg, sim.NewEngine(strat, rm, opts), bars, nil
}

func loadBars(ctx context.Context, path, symbol, timeframe string) ([]model.Bar, error) {
	if path == "" {
		return nil, fmt.Errorf("no bar source: set backtest.data_path or --data")
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return csvbars.Load(path)
	}
	r, err := sqlitestore.NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadBars(ctx, symbol, timeframe, time.Time{}, time.Time{})
}

func runBacktest(c *cli.Context) error {
	cfg, eng, bars, err := backtestSetup(c)
	if err != nil {
		return err
	}
	res, err := eng.Run(bars)
	if err != nil {
		return err
	}
	report := analytics.Summarize(res.Trades, cfg.Backtest.InitialEquity, cfg.AnalyticsOptions())

	runID := logger.NewRunID()
	if c.Bool("journal") && cfg.Storage.JournalPath != "" {
		if err := journalTrades(c.Context, cfg, runID, res); err != nil {
			return err
		}
	}
	tradesCSV := cfg.Backtest.TradesCSV
	if c.IsSet("trades-csv") {
		tradesCSV = c.String("trades-csv")
	}
	if tradesCSV != "" {
		if err := csvbars.SaveTrades(tradesCSV, res.Trades); err != nil {
			return err
		}
		slog.Info("trade log written", "path", tradesCSV, "trades", len(res.Trades))
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			RunID      string              `json:"run_id"`
			Report     analytics.Report    `json:"report"`
			Rejections map[risk.Reason]int `json:"rejections"`
		}{runID, report, res.Rejections})
	}
	printReport(os.Stdout, runID, res, report)
	return nil
}

func journalTrades(ctx context.Context, cfg *config.Config, runID string, res *sim.Result) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalPath), 0o755); err != nil {
		return err
	}
	j, err := execution.NewJournal(cfg.Storage.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()
	run := execution.Run{ID: runID, Symbol: cfg.Backtest.Symbol, Strategy: res.Strategy}
	return j.RecordTrades(ctx, run, res.Trades)
}

func printReport(w io.Writer, runID string, res *sim.Result, r analytics.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", runID)
	fmt.Fprintf(tw, "strategy\t%s\n", res.Strategy)
	fmt.Fprintf(tw, "bars\t%d\n", res.Bars)
	fmt.Fprintf(tw, "signals\t%d\n", res.Signals)
	fmt.Fprintf(tw, "trades\t%d (%d wins, %d losses)\n", r.Trades, r.Wins, r.Losses)
	fmt.Fprintf(tw, "total pnl\t%.2f (fees %.2f)\n", r.TotalPnL, r.TotalFees)
	fmt.Fprintf(tw, "total return\t%.2f%%\n", r.TotalReturnPct*100)
	fmt.Fprintf(tw, "win rate\t%.2f%%\n", r.WinRate*100)
	fmt.Fprintf(tw, "profit factor\t%.3f\n", r.ProfitFactor)
	fmt.Fprintf(tw, "expectancy\t%.2f\n", r.Expectancy)
	fmt.Fprintf(tw, "avg win / loss\t%.2f / %.2f\n", r.AvgWin, r.AvgLoss)
	fmt.Fprintf(tw, "sharpe\t%.3f\n", r.SharpeRatio)
	fmt.Fprintf(tw, "sortino\t%.3f\n", r.SortinoRatio)
	fmt.Fprintf(tw, "max drawdown\t%.2f%%\n", r.MaxDrawdownPct*100)
	for _, rc := range res.RejectionCounts() {
		fmt.Fprintf(tw, "rejected %s\t%d\n", rc.Reason, rc.Count)
	}
	tw.Flush()
}
