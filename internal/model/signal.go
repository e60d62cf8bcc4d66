package model

import (
	"fmt"
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Signal is a directional trade proposal produced from a closed bar.
// Quantity stays 0 until the risk manager sizes it.
type Signal struct {
	Side     Side      `json:"side"`
	Entry    float64   `json:"entry"`
	Stop     float64   `json:"stop"`
	Target   float64   `json:"target"`
	Quantity float64   `json:"quantity"`
	BarIndex int       `json:"bar_index"`
	BarTime  time.Time `json:"bar_time"`
	ATR      float64   `json:"atr"`
	RSI      float64   `json:"rsi"`
}

// Validate checks that stop and target sit on the correct side of entry.
func (s Signal) Validate() error {
	switch s.Side {
	case Long:
		if !(s.Stop < s.Entry && s.Entry < s.Target) {
			return fmt.Errorf("long signal requires stop < entry < target, got %.8f/%.8f/%.8f", s.Stop, s.Entry, s.Target)
		}
	case Short:
		if !(s.Target < s.Entry && s.Entry < s.Stop) {
			return fmt.Errorf("short signal requires target < entry < stop, got %.8f/%.8f/%.8f", s.Target, s.Entry, s.Stop)
		}
	default:
		return fmt.Errorf("unknown side %q", s.Side)
	}
	return nil
}

// Decision is the risk manager's verdict on a signal.
type Decision string

const (
	Accepted Decision = "accepted"
	Rejected Decision = "rejected"
)

// Order is a sized signal plus the decision taken on it. Reason is empty for
// accepted orders.
type Order struct {
	Signal   Signal   `json:"signal"`
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
}

// Accepted reports whether the order may be executed.
func (o Order) Accepted() bool { return o.Decision == Accepted }

// Notional returns quantity × entry.
func (o Order) Notional() float64 { return o.Signal.Quantity * o.Signal.Entry }
