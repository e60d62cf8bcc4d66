package indicator

import (
	"math"
	"strconv"

	"scalper/internal/model"
)

// ATR calculates Average True Range with Wilder's smoothing. The first bar has
// no previous close, so its true range is high-low.
type ATR struct {
	period    int
	smooth    smma
	prevClose float64
	seen      bool
}

// NewATR creates a new ATR indicator with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period, smooth: smma{period: period}}
}

func (a *ATR) Name() string { return "ATR_" + strconv.Itoa(a.period) }

func (a *ATR) Update(bar model.Bar) {
	tr := bar.High - bar.Low
	if a.seen {
		tr = math.Max(tr, math.Max(math.Abs(bar.High-a.prevClose), math.Abs(bar.Low-a.prevClose)))
	}
	a.prevClose = bar.Close
	a.seen = true
	a.smooth.add(tr)
}

func (a *ATR) Value() float64 {
	if !a.smooth.ready() {
		return 0
	}
	return a.smooth.current
}

func (a *ATR) Ready() bool { return a.smooth.ready() }
