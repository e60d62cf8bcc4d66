package strategy

import (
	"scalper/internal/indicator"
	"scalper/internal/model"
)

// EMARSIVWAPName is the registry name of the trend-following scalper.
const EMARSIVWAPName = "ema_rsi_vwap"

// EMARSIVWAP goes with the fast/slow EMA trend when price is on the same side
// of VWAP, RSI agrees and volume spikes.
//
// Long:  fast EMA > slow EMA, close > VWAP, RSI > long threshold
// Short: fast EMA < slow EMA, close < VWAP, RSI < short threshold
// Both:  volume > volume MA × spike multiplier, ATR > 0
type EMARSIVWAP struct {
	p Params
}

// NewEMARSIVWAP creates the strategy. Params are assumed validated.
func NewEMARSIVWAP(p Params) *EMARSIVWAP {
	return &EMARSIVWAP{p: p}
}

func (s *EMARSIVWAP) Name() string  { return EMARSIVWAPName }
func (s *EMARSIVWAP) Lookback() int { return s.p.Indicators.Lookback() }

func (s *EMARSIVWAP) ComputeIndicators(bars []model.Bar) ([]model.Frame, error) {
	return indicator.Compute(bars, s.p.Indicators)
}

func (s *EMARSIVWAP) GenerateSignal(frames []model.Frame) (*model.Signal, error) {
	f, idx, err := closedFrame(frames)
	if err != nil {
		return nil, err
	}
	if f.ATR <= 0 || !volumeSpike(f, s.p.VolumeSpikeMultiplier) {
		return nil, nil
	}

	switch {
	case f.FastEMA > f.SlowEMA && f.Close > f.VWAP && f.RSI > s.p.RSILongThreshold:
		return bracket(model.Long, f, idx, s.p), nil
	case f.FastEMA < f.SlowEMA && f.Close < f.VWAP && f.RSI < s.p.RSIShortThreshold:
		return bracket(model.Short, f, idx, s.p), nil
	}
	return nil, nil
}
