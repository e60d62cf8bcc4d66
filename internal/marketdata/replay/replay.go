// Package replay serves a stored bar series as if it were arriving live, one
// bar per poll. It drives paper sessions and the live/backtest parity checks.
package replay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scalper/internal/marketdata"
	"scalper/internal/model"
)

// maxGap caps the simulated wait between two bars.
const maxGap = 5 * time.Second

// Feed replays bars. Each Window call advances the forming bar by one.
type Feed struct {
	mu     sync.Mutex
	bars   []model.Bar
	cursor int // index of the forming bar of the next window
	speed  float64
	served int
}

// New creates a replay feed. speed scales real bar spacing: 1 is real time,
// 10 is ten times faster, 0 serves bars as fast as they are requested.
func New(bars []model.Bar, speed float64) *Feed {
	return &Feed{bars: bars, cursor: 1, speed: speed}
}

// Window returns the bars up to and including the next forming bar.
func (f *Feed) Window(ctx context.Context, n int) ([]model.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cursor >= len(f.bars) {
		if f.served > 0 {
			slog.Info("replay completed", "bars", len(f.bars))
			f.served = 0
		}
		return nil, marketdata.ErrExhausted
	}

	if f.speed > 0 && f.cursor > 1 {
		gap := time.Duration(float64(f.bars[f.cursor].Time.Sub(f.bars[f.cursor-1].Time)) / f.speed)
		if gap > maxGap {
			gap = maxGap
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(gap):
		}
	}

	w := marketdata.Tail(f.bars[:f.cursor+1], n)
	out := make([]model.Bar, len(w))
	copy(out, w)
	f.cursor++
	f.served++
	return out, nil
}

// Remaining reports how many windows are left.
func (f *Feed) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := len(f.bars) - f.cursor; r > 0 {
		return r
	}
	return 0
}
