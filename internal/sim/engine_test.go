package sim

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper/internal/execution"
	"scalper/internal/model"
	"scalper/internal/risk"
	"scalper/internal/strategy"
)

// scripted emits pre-arranged signals keyed by closed bar index.
type scripted struct {
	signals map[int]model.Signal
	seen    []int
	lens    []int
}

func (s *scripted) Name() string  { return "scripted" }
func (s *scripted) Lookback() int { return 1 }

func (s *scripted) ComputeIndicators(bars []model.Bar) ([]model.Frame, error) {
	frames := make([]model.Frame, len(bars))
	for i, b := range bars {
		frames[i] = model.Frame{Bar: b, Ready: true}
	}
	return frames, nil
}

func (s *scripted) GenerateSignal(frames []model.Frame) (*model.Signal, error) {
	idx := len(frames) - 2
	s.seen = append(s.seen, idx)
	s.lens = append(s.lens, len(frames))
	sig, ok := s.signals[idx]
	if !ok {
		return nil, nil
	}
	sig.BarIndex = idx
	sig.BarTime = frames[idx].Time
	return &sig, nil
}

var start = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

// calm returns n bars around 100 that touch neither 98 nor 104.
func calm(n int, step time.Duration) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		bars[i] = model.Bar{Time: start.Add(time.Duration(i) * step), Open: 100, High: 101, Low: 99.5, Close: 100, Volume: 10}
	}
	return bars
}

func long100() model.Signal {
	return model.Signal{Side: model.Long, Entry: 100, Stop: 98, Target: 104, ATR: 1}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, s strategy.Strategy, mutate func(*risk.Policy), opts Options) *Engine {
	t.Helper()
	p := risk.DefaultPolicy()
	if mutate != nil {
		mutate(&p)
	}
	rm, err := risk.NewManager(p)
	require.NoError(t, err)
	if opts.InitialEquity == 0 {
		opts.InitialEquity = 1000
	}
	opts.Logger = quietLogger()
	return NewEngine(s, rm, opts)
}

func TestRun_StopPriorityScenario(t *testing.T) {
	t.Parallel()
	bars := calm(4, 5*time.Minute)
	bars[2].Open, bars[2].High, bars[2].Low, bars[2].Close = 98.5, 99, 97, 98.5

	s := &scripted{signals: map[int]model.Signal{0: long100()}}
	res, err := newEngine(t, s, nil, Options{CooldownBars: 1}).Run(bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, model.ExitStop, tr.ExitReason)
	assert.Equal(t, 98.0, tr.ExitPrice)
	assert.Equal(t, bars[1].Time, tr.EntryTime)
	assert.Equal(t, bars[2].Time, tr.ExitTime)
	assert.InDelta(t, 5, tr.Quantity, 1e-12)
	// Sizing: without frictions the stop costs exactly the per-trade risk.
	assert.InDelta(t, -10, tr.PnL, 1e-9)
	assert.InDelta(t, 990, res.State.Equity, 1e-9)
	assert.InDelta(t, 10, res.State.DailyRealizedLoss, 1e-9)
	assert.Equal(t, 1000.0, res.State.PeakEquity)
}

func TestRun_SizingInvariantWithFrictions(t *testing.T) {
	t.Parallel()
	bars := calm(4, 5*time.Minute)
	bars[2].Open, bars[2].High, bars[2].Low, bars[2].Close = 98.5, 99, 97, 98.5

	s := &scripted{signals: map[int]model.Signal{0: long100()}}
	fill := execution.FillModel{SlippageBps: 5, FeeBps: 4}
	res, err := newEngine(t, s, nil, Options{Fill: fill}).Run(bars)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.InDelta(t, 100*1.0005, tr.EntryPrice, 1e-9)
	assert.InDelta(t, 98*0.9995, tr.ExitPrice, 1e-9)
	// Slippage adds about 0.15 per unit and fees about 0.4 in total.
	assert.InDelta(t, -10, tr.PnL, 1.5)
	assert.Less(t, tr.PnL, -10.0)
	assert.InDelta(t, 1000+tr.PnL, res.State.Equity, 1e-9)
	assert.InDelta(t, -tr.PnL, res.State.DailyRealizedLoss, 1e-9)
}

func TestRun_EntryFeeDeductedAtOpen(t *testing.T) {
	t.Parallel()
	bars := calm(3, 5*time.Minute)
	s := &scripted{signals: map[int]model.Signal{0: long100()}}
	fill := execution.FillModel{FeeBps: 10}
	res, err := newEngine(t, s, nil, Options{Fill: fill}).Run(bars)
	require.NoError(t, err)

	// Opened while processing bar 0, held through bar 1, force-closed on bar 2.
	assert.InDelta(t, 1000-0.5, res.EquityCurve[0].Equity, 1e-9)
	assert.InDelta(t, 1000-0.5, res.EquityCurve[1].Equity, 1e-9)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, model.ExitEndOfData, res.Trades[0].ExitReason)
	assert.InDelta(t, 1000+res.Trades[0].PnL, res.EquityCurve[2].Equity, 1e-9)
}

func TestRun_CooldownSkipsOneBar(t *testing.T) {
	t.Parallel()
	bars := calm(7, 5*time.Minute)
	bars[2].Open, bars[2].High, bars[2].Low, bars[2].Close = 98.5, 99, 97, 98.5

	signals := make(map[int]model.Signal)
	for i := range bars {
		signals[i] = long100()
	}
	s := &scripted{signals: signals}
	res, err := newEngine(t, s, nil, Options{CooldownBars: 1}).Run(bars)
	require.NoError(t, err)

	// 0 opens, 1 holds, 2 stops out, 3 cools down, 4 opens again.
	assert.Equal(t, []int{0, 4}, s.seen)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, 0, res.Trades[0].BarIndex)
	assert.Equal(t, 4, res.Trades[1].BarIndex)
	assert.Equal(t, model.ExitEndOfData, res.Trades[1].ExitReason)
	assert.Equal(t, bars[6].Time, res.Trades[1].ExitTime)
}

func TestRun_NeverPassesFutureBars(t *testing.T) {
	t.Parallel()
	bars := calm(12, 5*time.Minute)
	s := &scripted{}
	_, err := newEngine(t, s, nil, Options{}).Run(bars)
	require.NoError(t, err)

	require.Len(t, s.seen, len(bars)-1)
	for i, idx := range s.seen {
		assert.Equal(t, i, idx)
		assert.Equal(t, idx+2, s.lens[i])
	}
}

func TestRun_DailyResetPermitsTradingNextDay(t *testing.T) {
	t.Parallel()
	// 20:00 .. 02:00 hourly; midnight is bar 4.
	bars := calm(7, time.Hour)
	bars[1].High, bars[1].Low, bars[1].Close = 100.5, 97, 98
	bars[5].High, bars[5].Low = 105, 99.5

	s := &scripted{signals: map[int]model.Signal{
		0: long100(),
		3: long100(),
		4: long100(),
	}}
	res, err := newEngine(t, s, func(p *risk.Policy) { p.MaxDailyLossUSD = 10 }, Options{CooldownBars: 1}).Run(bars)
	require.NoError(t, err)

	assert.Equal(t, map[risk.Reason]int{risk.DailyLossCapReached: 1}, res.Rejections)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, model.ExitStop, res.Trades[0].ExitReason)
	assert.Equal(t, 4, res.Trades[1].BarIndex)
	assert.Equal(t, model.ExitTarget, res.Trades[1].ExitReason)
	assert.Equal(t, "2024-05-02", res.State.Day)
	assert.Zero(t, res.State.DailyRealizedLoss)
	assert.Equal(t, 1, res.State.TradesToday)
}

func TestRun_DailyResetHappensEveryDay(t *testing.T) {
	t.Parallel()
	// Three days of 6-hourly bars with a stop-out early each day.
	bars := calm(13, 6*time.Hour)
	signals := map[int]model.Signal{}
	for day := 0; day < 3; day++ {
		first := day*4 + 1 // 02:00 on each day
		signals[first] = long100()
		bars[first+1].High, bars[first+1].Low, bars[first+1].Close = 100.5, 97, 98
		signals[first+2] = long100() // after the cooldown, still the same day
	}
	s := &scripted{signals: signals}
	res, err := newEngine(t, s, func(p *risk.Policy) { p.MaxDailyLossUSD = 10 }, Options{CooldownBars: 0}).Run(bars)
	require.NoError(t, err)

	stops := 0
	for _, tr := range res.Trades {
		if tr.ExitReason == model.ExitStop {
			stops++
		}
	}
	assert.Equal(t, 3, stops)
	assert.Equal(t, 3, res.Rejections[risk.DailyLossCapReached])
}

func TestRun_RejectionCounts(t *testing.T) {
	t.Parallel()
	bars := calm(6, 5*time.Minute)
	signals := map[int]model.Signal{}
	for i := range bars {
		signals[i] = long100()
	}
	s := &scripted{signals: signals}
	res, err := newEngine(t, s, func(p *risk.Policy) { p.MinRiskReward = 3 }, Options{}).Run(bars)
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	assert.Equal(t, 5, res.Signals)
	assert.Equal(t, []ReasonCount{{Reason: risk.RiskRewardTooLow, Count: 5}}, res.RejectionCounts())
}

func TestRun_InvalidSeries(t *testing.T) {
	t.Parallel()
	bars := calm(6, 5*time.Minute)
	bars[4].Time = bars[4].Time.Add(time.Minute)
	_, err := newEngine(t, &scripted{}, nil, Options{}).Run(bars)
	assert.ErrorIs(t, err, model.ErrInvalidSeries)

	_, err = newEngine(t, &scripted{}, nil, Options{Timeframe: time.Minute}).Run(calm(6, 5*time.Minute))
	assert.ErrorIs(t, err, model.ErrInvalidSeries)
}

func TestRun_InsufficientData(t *testing.T) {
	t.Parallel()
	_, err := newEngine(t, &scripted{}, nil, Options{}).Run(calm(1, time.Minute))
	assert.ErrorIs(t, err, model.ErrInsufficientData)

	strat, err := strategy.New(strategy.EMARSIVWAPName, strategy.DefaultParams())
	require.NoError(t, err)
	_, err = newEngine(t, strat, nil, Options{}).Run(calm(21, time.Minute))
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

// market builds a trending, spiky series the real strategy trades on.
func market(n int) []model.Bar {
	bars := make([]model.Bar, n)
	prev := 100.0
	for i := range bars {
		drift := 0.15
		if (i/60)%2 == 1 {
			drift = -0.15
		}
		c := prev + drift + 0.6*math.Sin(float64(i)*0.7)
		vol := 100.0
		if i%5 == 0 {
			vol = 400
		}
		bars[i] = model.Bar{
			Time:   start.Add(time.Duration(i) * 5 * time.Minute),
			Open:   prev,
			High:   math.Max(prev, c) + 0.5,
			Low:    math.Min(prev, c) - 0.5,
			Close:  c,
			Volume: vol,
		}
		prev = c
	}
	return bars
}

func TestRun_DeterministicTradeLog(t *testing.T) {
	t.Parallel()
	bars := market(600)
	runOnce := func() ([]byte, *Result) {
		strat, err := strategy.New(strategy.EMARSIVWAPName, strategy.DefaultParams())
		require.NoError(t, err)
		eng := newEngine(t, strat, nil, Options{
			Fill:         execution.FillModel{SlippageBps: 5, FeeBps: 4},
			CooldownBars: 1,
		})
		res, err := eng.Run(bars)
		require.NoError(t, err)
		out, err := json.Marshal(res.Trades)
		require.NoError(t, err)
		return out, res
	}
	a, resA := runOnce()
	b, _ := runOnce()
	assert.True(t, bytes.Equal(a, b))
	assert.NotEmpty(t, resA.Trades)

	sum := 0.0
	for _, tr := range resA.Trades {
		sum += tr.PnL
		require.True(t, tr.ExitTime.After(tr.EntryTime) || tr.ExitTime.Equal(tr.EntryTime))
	}
	assert.InDelta(t, 1000+sum, resA.State.Equity, 1e-6)
	assert.Len(t, resA.EquityCurve, len(bars))
}

func TestRun_IndependentRunsShareNothing(t *testing.T) {
	t.Parallel()
	bars := calm(4, 5*time.Minute)
	bars[2].Open, bars[2].High, bars[2].Low, bars[2].Close = 98.5, 99, 97, 98.5
	eng := newEngine(t, &scripted{signals: map[int]model.Signal{0: long100()}}, nil, Options{})

	first, err := eng.Run(bars)
	require.NoError(t, err)
	second, err := eng.Run(bars)
	require.NoError(t, err)
	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.State, second.State)
}
