package risk

import "github.com/shopspring/decimal"

// LotFilter carries the exchange's quantity and price granularity.
// Zero values disable the corresponding rounding.
type LotFilter struct {
	StepSize float64 `json:"step_size" yaml:"step_size"`
	MinQty   float64 `json:"min_qty" yaml:"min_qty"`
	TickSize float64 `json:"tick_size" yaml:"tick_size"`
}

// RoundQuantity floors q to the step size. Quantities below the minimum
// become 0 so the caller can reject them.
func (f LotFilter) RoundQuantity(q float64) float64 {
	d := decimal.NewFromFloat(q)
	if f.StepSize > 0 {
		step := decimal.NewFromFloat(f.StepSize)
		d = d.Div(step).Floor().Mul(step)
	}
	if f.MinQty > 0 && d.LessThan(decimal.NewFromFloat(f.MinQty)) {
		return 0
	}
	out, _ := d.Float64()
	return out
}

// RoundPrice rounds p to the nearest tick.
func (f LotFilter) RoundPrice(p float64) float64 {
	if f.TickSize <= 0 {
		return p
	}
	tick := decimal.NewFromFloat(f.TickSize)
	out, _ := decimal.NewFromFloat(p).Div(tick).Round(0).Mul(tick).Float64()
	return out
}
