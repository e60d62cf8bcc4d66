package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper/internal/marketdata"
	"scalper/internal/model"
)

func bars(n int) []model.Bar {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Bar, n)
	for i := range out {
		out[i] = model.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: 1, High: 1, Low: 1, Close: float64(i)}
	}
	return out
}

func TestFeed_GrowingPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := New(bars(4), 0)
	assert.Equal(t, 3, f.Remaining())

	for want := 2; want <= 4; want++ {
		w, err := f.Window(ctx, 0)
		require.NoError(t, err)
		require.Len(t, w, want)
		assert.Equal(t, float64(want-1), w[len(w)-1].Close, "last bar is the forming one")
	}
	_, err := f.Window(ctx, 0)
	assert.ErrorIs(t, err, marketdata.ErrExhausted)
	assert.Zero(t, f.Remaining())
}

func TestFeed_BoundedWindow(t *testing.T) {
	t.Parallel()
	f := New(bars(10), 0)
	for i := 0; i < 5; i++ {
		_, err := f.Window(context.Background(), 3)
		require.NoError(t, err)
	}
	w, err := f.Window(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, w, 3)
	assert.Equal(t, []float64{4, 5, 6}, []float64{w[0].Close, w[1].Close, w[2].Close})
}

func TestFeed_WindowIsACopy(t *testing.T) {
	t.Parallel()
	src := bars(3)
	f := New(src, 0)
	w, err := f.Window(context.Background(), 0)
	require.NoError(t, err)
	w[0].Close = 99
	assert.Equal(t, 0.0, src[0].Close)
}

func TestFeed_SpeedHonoursCancellation(t *testing.T) {
	t.Parallel()
	f := New(bars(5), 1) // one-minute gaps capped at five seconds
	_, err := f.Window(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Window(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTail(t *testing.T) {
	t.Parallel()
	b := bars(5)
	assert.Len(t, marketdata.Tail(b, 0), 5)
	assert.Len(t, marketdata.Tail(b, 9), 5)
	assert.Equal(t, b[3:], marketdata.Tail(b, 2))
}
