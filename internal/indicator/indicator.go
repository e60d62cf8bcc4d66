// Package indicator provides streaming technical indicators over bar data.
//
// Every indicator is a causal O(1) recurrence: feeding bars [0..i] yields the
// value at i and nothing after i can change it. Compute runs the full set used
// by the strategies over a series and returns one Frame per bar.
package indicator

import "scalper/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_9", "ATR_14").
	Name() string

	// Update feeds the next bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
