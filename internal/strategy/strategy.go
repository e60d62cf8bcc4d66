// Package strategy turns indicator frames into trade proposals.
//
// A Strategy computes its own frames from bars and evaluates the most recently
// closed frame of a window. The last frame of every window is the forming bar
// and is never read, so live polling and historical replay see the same
// decision for the same closed bar.
package strategy

import (
	"fmt"
	"sort"

	"scalper/internal/indicator"
	"scalper/internal/model"
)

// Strategy is the capability both the simulation engine and the live driver
// depend on.
type Strategy interface {
	// Name returns the registry name of the strategy.
	Name() string

	// Lookback is the number of bars needed before the first frame is Ready.
	Lookback() int

	// ComputeIndicators returns one causal frame per bar.
	ComputeIndicators(bars []model.Bar) ([]model.Frame, error)

	// GenerateSignal evaluates frames[len-2]. It returns nil when no rule fires.
	GenerateSignal(frames []model.Frame) (*model.Signal, error)
}

// Params are the tunable thresholds shared by all strategies.
type Params struct {
	Indicators            indicator.Params
	VolumeSpikeMultiplier float64
	RSILongThreshold      float64
	RSIShortThreshold     float64
	RSIOversold           float64
	RSIOverbought         float64
	StopATRMultiplier     float64
	TargetATRMultiplier   float64
}

// DefaultParams returns the stock scalping thresholds.
func DefaultParams() Params {
	return Params{
		Indicators:            indicator.DefaultParams(),
		VolumeSpikeMultiplier: 1.5,
		RSILongThreshold:      48,
		RSIShortThreshold:     52,
		RSIOversold:           30,
		RSIOverbought:         70,
		StopATRMultiplier:     0.8,
		TargetATRMultiplier:   1.6,
	}
}

// Validate checks thresholds and periods.
func (p Params) Validate() error {
	if err := p.Indicators.Validate(); err != nil {
		return err
	}
	switch {
	case p.VolumeSpikeMultiplier < 0:
		return &model.ConfigurationError{Field: "volume_spike_multiplier", Reason: "must be >= 0"}
	case p.StopATRMultiplier <= 0:
		return &model.ConfigurationError{Field: "stop_atr_multiplier", Reason: "must be > 0"}
	case p.TargetATRMultiplier <= 0:
		return &model.ConfigurationError{Field: "target_atr_multiplier", Reason: "must be > 0"}
	}
	for _, th := range []struct {
		name string
		v    float64
	}{
		{"rsi_long_threshold", p.RSILongThreshold},
		{"rsi_short_threshold", p.RSIShortThreshold},
		{"rsi_oversold", p.RSIOversold},
		{"rsi_overbought", p.RSIOverbought},
	} {
		if th.v < 0 || th.v > 100 {
			return &model.ConfigurationError{Field: th.name, Reason: fmt.Sprintf("must be within 0..100, got %g", th.v)}
		}
	}
	return nil
}

type factory func(Params) Strategy

var registry = map[string]factory{
	EMARSIVWAPName:   func(p Params) Strategy { return NewEMARSIVWAP(p) },
	RSIReversionName: func(p Params) Strategy { return NewRSIReversion(p) },
}

// extraChecks holds per-strategy limits on top of Params.Validate.
var extraChecks = map[string]func(Params) error{
	RSIReversionName: validateRSIReversion,
}

// New builds the strategy registered under name.
func New(name string, p Params) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, &model.ConfigurationError{Field: "strategy.name", Reason: fmt.Sprintf("unknown strategy %q (have %v)", name, Names())}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if check, ok := extraChecks[name]; ok {
		if err := check(p); err != nil {
			return nil, err
		}
	}
	return f(p), nil
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// closedFrame returns the second-to-last frame and its index.
func closedFrame(frames []model.Frame) (model.Frame, int, error) {
	if len(frames) < 2 {
		return model.Frame{}, 0, &model.InsufficientDataError{Have: len(frames), Need: 2}
	}
	idx := len(frames) - 2
	f := frames[idx]
	if !f.Ready {
		return model.Frame{}, 0, &model.InsufficientDataError{Have: len(frames), Need: len(frames) + 1}
	}
	return f, idx, nil
}

// bracket places stop and target ATR multiples away from the closed bar's
// close. Quantity is left at zero for the risk manager.
func bracket(side model.Side, f model.Frame, idx int, p Params) *model.Signal {
	dir := side.Sign()
	return &model.Signal{
		Side:     side,
		Entry:    f.Close,
		Stop:     f.Close - dir*f.ATR*p.StopATRMultiplier,
		Target:   f.Close + dir*f.ATR*p.TargetATRMultiplier,
		BarIndex: idx,
		BarTime:  f.Time,
		ATR:      f.ATR,
		RSI:      f.RSI,
	}
}

func volumeSpike(f model.Frame, mult float64) bool {
	return f.Volume > f.VolumeMA*mult
}
