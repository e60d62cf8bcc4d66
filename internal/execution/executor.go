// Package execution is the boundary between accepted orders and fills.
//
// FillModel holds the slippage and fee arithmetic shared by the simulator and
// the paper executor. Executor is what the live driver talks to: a market
// entry with protective stop/target orders, and a later report of how the
// position was closed.
package execution

import (
	"context"
	"errors"
	"time"

	"scalper/internal/model"
)

// ErrPositionOpen is returned when an entry is attempted while a position is
// still open. Only one position exists at a time.
var ErrPositionOpen = errors.New("position already open")

// Executor places entries and reports exits.
type Executor interface {
	// Open places a market entry for an accepted order together with its
	// protective stop and target, and returns the filled position.
	Open(ctx context.Context, o model.Order, at time.Time) (model.Position, error)

	// Exit reports the closed trade once a protective order has filled during
	// the given closed bar, or nil while the position is still open.
	Exit(ctx context.Context, bar model.Bar) (*model.Trade, error)
}

// Flattener is implemented by executors that can close the open position at
// a given price, as a finite replay does once its last bar has been served.
type Flattener interface {
	Flatten(ctx context.Context, price float64, reason model.ExitReason, at time.Time) (*model.Trade, error)
}

// Restorer is implemented by executors that can adopt a position persisted
// by an earlier session.
type Restorer interface {
	Restore(pos model.Position) error
}
