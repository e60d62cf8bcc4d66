package indicator

import "scalper/internal/model"

// VWAP is the cumulative volume-weighted typical price since the first bar it
// was fed. It is not reset per session: over a live fetch window it covers the
// whole window.
type VWAP struct {
	pv      float64
	volume  float64
	current float64
	count   int
}

// NewVWAP creates a cumulative VWAP.
func NewVWAP() *VWAP { return &VWAP{} }

func (v *VWAP) Name() string { return "VWAP" }

func (v *VWAP) Update(bar model.Bar) {
	v.count++
	v.pv += bar.Typical() * bar.Volume
	v.volume += bar.Volume
	if v.volume == 0 {
		v.current = bar.Close
		return
	}
	v.current = v.pv / v.volume
}

func (v *VWAP) Value() float64 { return v.current }
func (v *VWAP) Ready() bool    { return v.count > 0 }
