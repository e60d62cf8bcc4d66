package indicator

import (
	"strconv"

	"scalper/internal/model"
)

// EMA calculates Exponential Moving Average of the close.
// Seeded by the first close seen (no SMA warm-up), alpha = 2/(period+1).
// O(1) per update, no window storage.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(bar model.Bar) {
	e.add(bar.Close)
}

func (e *EMA) add(price float64) {
	e.count++
	if e.count == 1 {
		e.current = price
		return
	}
	// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }
