package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrasher-corp/gct-ta/indicators"

	"scalper/internal/model"
)

func wave(n int) []model.Bar {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	prev := 100.0
	for i := range bars {
		c := 100 + 4*math.Sin(float64(i)/5) + float64(i)*0.05
		hi := math.Max(prev, c) + 0.3
		lo := math.Min(prev, c) - 0.3
		bars[i] = model.Bar{
			Time:   start.Add(time.Duration(i) * 5 * time.Minute),
			Open:   prev,
			High:   hi,
			Low:    lo,
			Close:  c,
			Volume: 50 + float64(i%7)*10,
		}
		prev = c
	}
	return bars
}

func TestParamsLookback(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 21, DefaultParams().Lookback())
	assert.Equal(t, 31, Params{FastEMA: 5, SlowEMA: 10, RSI: 30, ATR: 3, VolumeMA: 4}.Lookback())
	assert.Equal(t, 40, Params{FastEMA: 5, SlowEMA: 10, RSI: 3, ATR: 3, VolumeMA: 40}.Lookback())
}

func TestParamsValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.RSI = 0
	assert.ErrorIs(t, p.Validate(), model.ErrConfiguration)

	p = DefaultParams()
	p.FastEMA = 30
	assert.ErrorIs(t, p.Validate(), model.ErrConfiguration)
}

func TestCompute_InsufficientData(t *testing.T) {
	t.Parallel()
	_, err := Compute(wave(20), DefaultParams())
	var ide *model.InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 20, ide.Have)
	assert.Equal(t, 21, ide.Need)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestCompute_ReadyAfterLookback(t *testing.T) {
	t.Parallel()
	p := DefaultParams()
	frames, err := Compute(wave(30), p)
	require.NoError(t, err)
	require.Len(t, frames, 30)
	for i, f := range frames {
		assert.Equal(t, i >= p.Lookback()-1, f.Ready, "frame %d", i)
	}
}

func TestCompute_IsCausal(t *testing.T) {
	t.Parallel()
	bars := wave(120)
	full, err := Compute(bars, DefaultParams())
	require.NoError(t, err)
	for _, k := range []int{21, 50, 99} {
		prefix, err := Compute(bars[:k], DefaultParams())
		require.NoError(t, err)
		for j := range prefix {
			require.Equal(t, full[j], prefix[j], "prefix %d frame %d", k, j)
		}
	}
}

func TestCompute_VolumeMAMatchesReference(t *testing.T) {
	t.Parallel()
	bars := wave(80)
	p := DefaultParams()
	frames, err := Compute(bars, p)
	require.NoError(t, err)

	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = b.Volume
	}
	ref := indicators.SMA(vols, p.VolumeMA)
	require.NotEmpty(t, ref)
	// Outputs are aligned on the latest bar.
	for k := 0; k < 30; k++ {
		i := len(frames) - 1 - k
		assert.InDelta(t, ref[len(ref)-1-k], frames[i].VolumeMA, 1e-9, "bar %d", i)
	}
}

func TestEngine_UpdateMatchesCompute(t *testing.T) {
	t.Parallel()
	bars := wave(40)
	frames, err := Compute(bars, DefaultParams())
	require.NoError(t, err)
	eng := NewEngine(DefaultParams())
	for i, b := range bars {
		assert.Equal(t, frames[i], eng.Update(b))
	}
}
