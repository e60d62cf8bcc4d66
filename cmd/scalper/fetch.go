package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"scalper/internal/calendar"
	"scalper/internal/marketdata/binance"
	"scalper/internal/store/csvbars"
	sqlitestore "scalper/internal/store/sqlite"
)

var fetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "download closed futures klines from Binance",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "symbol", Usage: "instrument (default backtest.symbol)"},
		&cli.StringFlag{Name: "timeframe", Usage: "bar interval such as 5m (default backtest.timeframe)"},
		&cli.TimestampFlag{Name: "from", Usage: "first bar open time", Layout: "2006-01-02"},
		&cli.TimestampFlag{Name: "to", Usage: "end of the range, exclusive (default now)", Layout: "2006-01-02"},
		&cli.StringFlag{Name: "out", Usage: "a .csv file or a SQLite database (default storage.sqlite_path)", TakesFile: true},
	},
	Action: runFetch,
}

func runFetch(c *cli.Context) error {
	cfg, log, err := setup(c, "fetch")
	if err != nil {
		return err
	}
	symbol := cfg.Backtest.Symbol
	if c.IsSet("symbol") {
		symbol = strings.ToUpper(c.String("symbol"))
	}
	tf := cfg.Backtest.Timeframe
	if c.IsSet("timeframe") {
		tf = c.String("timeframe")
	}
	step, err := calendar.ParseTimeframe(tf)
	if err != nil {
		return err
	}
	out := cfg.Storage.SQLitePath
	if c.IsSet("out") {
		out = c.String("out")
	}
	end := time.Now().UTC()
	if ts := c.Timestamp("to"); ts != nil {
		end = ts.UTC()
	}
	var from time.Time
	if ts := c.Timestamp("from"); ts != nil {
		from = ts.UTC()
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}

	client := binance.NewClient(cfg.Live.RESTBaseURL, cfg.Live.RequestsPerSecond)
	toCSV := strings.EqualFold(filepath.Ext(out), ".csv")

	var w *sqlitestore.Writer
	if !toCSV {
		w, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: out})
		if err != nil {
			return err
		}
		defer w.Close()
		if from.IsZero() {
			last, err := w.LastTime(c.Context, symbol, tf)
			if err != nil {
				return err
			}
			if !last.IsZero() {
				from = last.Add(step)
				log.Info("resuming download", "from", from)
			}
		}
	}
	if from.IsZero() {
		return fmt.Errorf("--from is required for a new series")
	}

	bars, err := client.History(c.Context, symbol, tf, step, from, end)
	if err != nil {
		return err
	}
	log.Info("klines downloaded", "symbol", symbol, "timeframe", tf, "bars", len(bars))

	if toCSV {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := csvbars.WriteBars(f, bars); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	} else if err := w.WriteBars(c.Context, symbol, tf, bars); err != nil {
		return err
	}
	slog.Info("bars stored", "path", out, "bars", len(bars))
	return nil
}
