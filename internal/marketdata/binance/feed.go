package binance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scalper/internal/marketdata"
	"scalper/internal/model"
)

const defaultWindow = 500

// RESTFeed polls klines over REST on every Window call.
type RESTFeed struct {
	client   *Client
	symbol   string
	interval string
}

// NewRESTFeed creates a polling feed.
func NewRESTFeed(c *Client, symbol, interval string) *RESTFeed {
	return &RESTFeed{client: c, symbol: symbol, interval: interval}
}

func (f *RESTFeed) Window(ctx context.Context, n int) ([]model.Bar, error) {
	if n <= 0 {
		n = defaultWindow
	}
	return f.client.Klines(ctx, f.symbol, f.interval, n, time.Time{}, time.Time{})
}

// StreamFeed keeps a window seeded over REST and advanced by the kline
// stream. A gap in the stream triggers a REST resync on the next poll.
type StreamFeed struct {
	client   *Client
	stream   *Stream
	symbol   string
	interval string
	step     time.Duration
	capacity int

	mu     sync.Mutex
	bars   []model.Bar
	seeded bool
}

// NewStreamFeed creates a feed holding up to capacity bars of step spacing.
// The stream must be running for the window to advance.
func NewStreamFeed(c *Client, s *Stream, symbol, interval string, step time.Duration, capacity int) *StreamFeed {
	if capacity <= 0 {
		capacity = defaultWindow
	}
	return &StreamFeed{client: c, stream: s, symbol: symbol, interval: interval, step: step, capacity: capacity}
}

// Window must be called from a single goroutine; it consumes the stream ring.
func (f *StreamFeed) Window(ctx context.Context, n int) ([]model.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seeded {
		f.stream.Updates().Drain(f.apply)
	}
	// Unseeded, or a gap was found while draining: reseed over REST.
	for attempt := 0; attempt < 2 && !f.seeded; attempt++ {
		bars, err := f.client.Klines(ctx, f.symbol, f.interval, f.capacity, time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}
		f.bars = bars
		f.seeded = true
		slog.Info("stream feed seeded", "symbol", f.symbol, "bars", len(bars))
		f.stream.Updates().Drain(f.apply)
	}

	w := marketdata.Tail(f.bars, n)
	out := make([]model.Bar, len(w))
	copy(out, w)
	return out, nil
}

// apply merges one update. Updates for the forming bar replace it; the next
// bar is appended; older updates are ignored.
func (f *StreamFeed) apply(b model.Bar) {
	if !f.seeded {
		return
	}
	if len(f.bars) == 0 {
		f.bars = append(f.bars, b)
		return
	}
	last := f.bars[len(f.bars)-1]
	switch {
	case b.Time.Equal(last.Time):
		f.bars[len(f.bars)-1] = b
	case b.Time.After(last.Time):
		if f.step > 0 && b.Time.Sub(last.Time) > f.step {
			slog.Warn("kline stream gap, resyncing", "last", last.Time, "got", b.Time)
			f.seeded = false
			return
		}
		f.bars = append(f.bars, b)
		if len(f.bars) > f.capacity {
			f.bars = append(f.bars[:0], f.bars[len(f.bars)-f.capacity:]...)
		}
	}
}
