package indicator

import (
	"fmt"

	"scalper/internal/model"
)

// Params holds the lookback periods of the indicator set.
type Params struct {
	FastEMA  int
	SlowEMA  int
	RSI      int
	ATR      int
	VolumeMA int
}

// DefaultParams mirrors the scalping defaults: EMA 9/21, RSI 7, ATR 14, volume MA 20.
func DefaultParams() Params {
	return Params{FastEMA: 9, SlowEMA: 21, RSI: 7, ATR: 14, VolumeMA: 20}
}

// Validate rejects non-positive periods and an inverted EMA pair.
func (p Params) Validate() error {
	periods := []struct {
		name string
		v    int
	}{
		{"fast_ema_period", p.FastEMA},
		{"slow_ema_period", p.SlowEMA},
		{"rsi_period", p.RSI},
		{"atr_period", p.ATR},
		{"vol_ma_period", p.VolumeMA},
	}
	for _, f := range periods {
		if f.v <= 0 {
			return &model.ConfigurationError{Field: f.name, Reason: fmt.Sprintf("must be > 0, got %d", f.v)}
		}
	}
	if p.FastEMA >= p.SlowEMA {
		return &model.ConfigurationError{Field: "fast_ema_period", Reason: "must be below slow_ema_period"}
	}
	return nil
}

// Lookback is the number of bars needed before every indicator is ready.
func (p Params) Lookback() int {
	n := p.SlowEMA
	for _, v := range []int{p.FastEMA, p.RSI + 1, p.ATR, p.VolumeMA} {
		if v > n {
			n = v
		}
	}
	return n
}

// Engine feeds bars through the full indicator set one at a time.
// Designed for single-goroutine usage; no locks.
type Engine struct {
	fast, slow *EMA
	rsi        *RSI
	atr        *ATR
	vwap       *VWAP
	volMA      *SMA
}

// NewEngine creates an engine with fresh indicator state.
func NewEngine(p Params) *Engine {
	return &Engine{
		fast:  NewEMA(p.FastEMA),
		slow:  NewEMA(p.SlowEMA),
		rsi:   NewRSI(p.RSI),
		atr:   NewATR(p.ATR),
		vwap:  NewVWAP(),
		volMA: NewSMA(p.VolumeMA, Volume),
	}
}

// Update consumes the next bar and returns its frame.
func (e *Engine) Update(bar model.Bar) model.Frame {
	for _, ind := range e.indicators() {
		ind.Update(bar)
	}
	ready := true
	for _, ind := range e.indicators() {
		ready = ready && ind.Ready()
	}
	return model.Frame{
		Bar:      bar,
		FastEMA:  e.fast.Value(),
		SlowEMA:  e.slow.Value(),
		RSI:      e.rsi.Value(),
		ATR:      e.atr.Value(),
		VWAP:     e.vwap.Value(),
		VolumeMA: e.volMA.Value(),
		Ready:    ready,
	}
}

func (e *Engine) indicators() [6]Indicator {
	return [6]Indicator{e.fast, e.slow, e.rsi, e.atr, e.vwap, e.volMA}
}

// Compute returns one frame per bar. It fails with InsufficientDataError when
// the series is shorter than the longest lookback.
func Compute(bars []model.Bar, p Params) ([]model.Frame, error) {
	if need := p.Lookback(); len(bars) < need {
		return nil, &model.InsufficientDataError{Have: len(bars), Need: need}
	}
	eng := NewEngine(p)
	frames := make([]model.Frame, len(bars))
	for i, b := range bars {
		frames[i] = eng.Update(b)
	}
	return frames, nil
}
