// Package notification delivers trading alerts to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scalper/internal/model"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Time    time.Time  `json:"ts"`
}

// Notifier is implemented by every delivery channel.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log notifier. A nil logger means slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, "alert", "title", alert.Title, "message", alert.Message)
	return nil
}

// Multi fans an alert out to several channels and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EntryAlert describes a filled entry.
func EntryAlert(symbol string, pos model.Position) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Entry %s %s", pos.Side, symbol),
		Message: fmt.Sprintf("qty=%g entry=%.4f SL=%.4f TP=%.4f",
			pos.Quantity, pos.EntryPrice, pos.Stop, pos.Target),
		Time: pos.EntryTime,
	}
}

// ExitAlert describes a closed trade. Losing trades are warnings.
func ExitAlert(symbol string, t model.Trade) Alert {
	level := AlertInfo
	if t.PnL < 0 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("Exit %s %s (%s)", t.Side, symbol, t.ExitReason),
		Message: fmt.Sprintf("qty=%g exit=%.4f pnl=%.2f fees=%.2f",
			t.Quantity, t.ExitPrice, t.PnL, t.Fees),
		Time: t.ExitTime,
	}
}

// SummaryAlert reports the session state.
func SummaryAlert(symbol string, st model.RiskState, open bool, at time.Time) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Summary %s", symbol),
		Message: fmt.Sprintf("equity=%.2f drawdown=%.2f%% daily_loss=%.2f trades_today=%d open=%t",
			st.Equity, st.Drawdown()*100, st.DailyRealizedLoss, st.TradesToday, open),
		Time: at,
	}
}
