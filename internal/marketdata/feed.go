// Package marketdata defines the bar source the live driver polls.
package marketdata

import (
	"context"
	"errors"

	"scalper/internal/model"
)

// ErrExhausted is returned by finite feeds once every bar has been served.
var ErrExhausted = errors.New("marketdata: feed exhausted")

// Feed serves the most recent bars of one series, oldest first. The last bar
// of every window is still forming.
type Feed interface {
	// Window returns up to n bars; n <= 0 asks for all the feed holds.
	Window(ctx context.Context, n int) ([]model.Bar, error)
}

// Tail returns the last n bars of bars, or all of them when n <= 0 or the
// series is shorter.
func Tail(bars []model.Bar, n int) []model.Bar {
	if n <= 0 || n >= len(bars) {
		return bars
	}
	return bars[len(bars)-n:]
}
