// Command scalper backtests, downloads data for and paper-trades the
// intraday scalping strategies.
//
// Usage:
//
//	scalper backtest --config config.yaml --data data/ZECUSDT-5m.csv
//	scalper fetch --symbol ZECUSDT --timeframe 5m --from 2024-01-01
//	scalper live --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"scalper/config"
	"scalper/internal/logger"
	"scalper/internal/notification"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "YAML configuration file",
	EnvVars: []string{"SCALPER_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:  "scalper",
		Usage: "intraday scalping signal, risk and backtest engine",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			backtestCommand,
			fetchCommand,
			liveCommand,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("scalper failed", "err", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the JSON logger.
func setup(c *cli.Context, service string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.Init(service, level), nil
}

func buildNotifier(cfg *config.Config, log *slog.Logger) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier(log)}
	if tg := notification.NewTelegramNotifier(cfg.Notification.TelegramToken, cfg.Notification.TelegramChatID); tg.Enabled() {
		n = append(n, tg)
	}
	if cfg.Notification.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.Notification.WebhookURL))
	}
	return n
}
