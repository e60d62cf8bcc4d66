//go:build cgo

package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper/internal/model"
)

func TestJournal_RecordAndRead(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		{Side: model.Long, EntryTime: t0, EntryPrice: 100, ExitTime: t0.Add(time.Hour), ExitPrice: 101,
			ExitReason: model.ExitTarget, Quantity: 2, PnL: 1.9, Fees: 0.1, BarIndex: 30},
		{Side: model.Short, EntryTime: t0.Add(2 * time.Hour), EntryPrice: 101, ExitTime: t0.Add(3 * time.Hour), ExitPrice: 102,
			ExitReason: model.ExitStop, Quantity: 1, PnL: -1.05, Fees: 0.05, BarIndex: 44},
	}
	run := Run{ID: "run-a", Symbol: "ZECUSDT", Strategy: "ema_rsi_vwap"}
	require.NoError(t, j.RecordTrades(ctx, run, trades))
	require.NoError(t, j.RecordTrade(ctx, Run{ID: "run-b", Symbol: "ZECUSDT", Strategy: "x"}, trades[0]))

	got, err := j.Trades(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, trades, got)

	other, err := j.Trades(ctx, "run-b")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestJournal_MalformedTimeIsAnError(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	_, err = j.db.ExecContext(ctx, insertTrade,
		"run-x", "ZECUSDT", "ema_rsi_vwap", "long",
		"yesterday", 100.0, "2024-03-01T11:00:00Z", 101.0, "target", 1.0, 1.0, 0.0, 3)
	require.NoError(t, err)

	_, err = j.Trades(ctx, "run-x")
	assert.ErrorContains(t, err, "entry_time")
}
