package model

import "time"

// RiskState is the running account state of one run. It is owned by a single
// driver (simulation or live) and passed explicitly; there is no shared copy.
type RiskState struct {
	Equity            float64 `json:"equity"`
	PeakEquity        float64 `json:"peak_equity"`
	DailyRealizedLoss float64 `json:"daily_realized_loss"`
	Day               string  `json:"day"` // YYYY-MM-DD of the last processed bar
	TradesToday       int     `json:"trades_today"`
}

// NewRiskState returns the state at the start of a run.
func NewRiskState(initialEquity float64) RiskState {
	return RiskState{Equity: initialEquity, PeakEquity: initialEquity}
}

// Drawdown returns (peak-equity)/peak, or 0 when there is no peak yet.
func (s RiskState) Drawdown() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	return (s.PeakEquity - s.Equity) / s.PeakEquity
}

// Position is the single open position of a run.
type Position struct {
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"` // filled, slippage included
	Quantity   float64   `json:"quantity"`
	Stop       float64   `json:"stop"`
	Target     float64   `json:"target"`
	EntryFee   float64   `json:"entry_fee"`
	EntryTime  time.Time `json:"entry_time"`
	BarIndex   int       `json:"bar_index"` // closed bar the signal came from
}

// Session is what a live driver persists between restarts.
type Session struct {
	State    RiskState `json:"state"`
	Position *Position `json:"position,omitempty"`
	Cooldown int       `json:"cooldown"` // flat bars still to skip
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStop      ExitReason = "stop"
	ExitTarget    ExitReason = "target"
	ExitEndOfData ExitReason = "end_of_data"
)

// Trade is a closed round trip. PnL is net of entry and exit fees.
type Trade struct {
	Side       Side       `json:"side"`
	EntryTime  time.Time  `json:"entry_time"`
	EntryPrice float64    `json:"entry_price"`
	ExitTime   time.Time  `json:"exit_time"`
	ExitPrice  float64    `json:"exit_price"`
	ExitReason ExitReason `json:"exit_reason"`
	Quantity   float64    `json:"quantity"`
	PnL        float64    `json:"pnl"`
	Fees       float64    `json:"fees"`
	BarIndex   int        `json:"bar_index"`
}
