package strategy

import (
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"scalper/internal/model"
)

// RSIReversionName is the registry name of the mean-reversion variant.
const RSIReversionName = "rsi_reversion"

// RSIReversion fades RSI extremes on a volume spike: long at or below the
// oversold level, short at or above the overbought level. Indicators come from
// the gct-ta batch functions rather than the streaming engine.
type RSIReversion struct {
	p Params
}

// validateRSIReversion rejects RSI periods below 2, for which the batch RSI
// yields all zeros.
func validateRSIReversion(p Params) error {
	if p.Indicators.RSI < 2 {
		return &model.ConfigurationError{
			Field:  "rsi_period",
			Reason: fmt.Sprintf("%s needs a period of at least 2, got %d", RSIReversionName, p.Indicators.RSI),
		}
	}
	return nil
}

// NewRSIReversion creates the strategy. Params are assumed validated.
func NewRSIReversion(p Params) *RSIReversion {
	return &RSIReversion{p: p}
}

func (s *RSIReversion) Name() string { return RSIReversionName }

func (s *RSIReversion) Lookback() int {
	ip := s.p.Indicators
	n := ip.VolumeMA
	for _, v := range []int{ip.RSI + 1, ip.ATR + 1} {
		if v > n {
			n = v
		}
	}
	return n
}

func (s *RSIReversion) ComputeIndicators(bars []model.Bar) ([]model.Frame, error) {
	n := len(bars)
	lookback := s.Lookback()
	if n < lookback {
		return nil, &model.InsufficientDataError{Have: n, Need: lookback}
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	vols := make([]float64, n)
	for i, b := range bars {
		closes[i], highs[i], lows[i], vols[i] = b.Close, b.High, b.Low, b.Volume
	}

	ip := s.p.Indicators
	rsi := indicators.RSI(closes, ip.RSI)
	atr := indicators.ATR(highs, lows, closes, ip.ATR)
	volMA := indicators.SMA(vols, ip.VolumeMA)

	frames := make([]model.Frame, n)
	for i, b := range bars {
		frames[i] = model.Frame{
			Bar:      b,
			RSI:      alignedAt(rsi, n, i),
			ATR:      alignedAt(atr, n, i),
			VolumeMA: alignedAt(volMA, n, i),
			Ready:    i >= lookback-1,
		}
	}
	return frames, nil
}

func (s *RSIReversion) GenerateSignal(frames []model.Frame) (*model.Signal, error) {
	f, idx, err := closedFrame(frames)
	if err != nil {
		return nil, err
	}
	if f.ATR <= 0 || !volumeSpike(f, s.p.VolumeSpikeMultiplier) {
		return nil, nil
	}

	switch {
	case f.RSI <= s.p.RSIOversold:
		return bracket(model.Long, f, idx, s.p), nil
	case f.RSI >= s.p.RSIOverbought:
		return bracket(model.Short, f, idx, s.p), nil
	}
	return nil, nil
}

// alignedAt reads a batch indicator output for bar i of n. Outputs are aligned
// on the latest bar, so shorter slices simply have no value for early bars.
func alignedAt(out []float64, n, i int) float64 {
	j := len(out) - (n - i)
	if j < 0 || j >= len(out) {
		return 0
	}
	return out[j]
}
