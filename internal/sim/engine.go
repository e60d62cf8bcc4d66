// Package sim replays a bar series through a strategy and the risk manager,
// one closed bar at a time, exactly as the live driver would see it.
//
// At closed bar c the window handed to the strategy ends with bar c+1, the
// bar that is still forming at that moment; entries fill at its open time and
// exits are checked from the following iteration onwards. A run owns its
// RiskState and trade log; runs share nothing and may execute concurrently.
package sim

import (
	"errors"
	"log/slog"
	"time"

	"scalper/internal/calendar"
	"scalper/internal/execution"
	"scalper/internal/model"
	"scalper/internal/risk"
	"scalper/internal/strategy"
)

// Options configures a run.
type Options struct {
	InitialEquity float64
	Fill          execution.FillModel
	CooldownBars  int            // bars skipped after a close
	Timeframe     time.Duration  // expected spacing; 0 infers it from the series
	Location      *time.Location // day boundary zone; nil means UTC
	Logger        *slog.Logger
}

// Engine runs backtests.
type Engine struct {
	strat strategy.Strategy
	risk  *risk.Manager
	opts  Options
}

// NewEngine creates a simulation engine.
func NewEngine(s strategy.Strategy, rm *risk.Manager, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Engine{strat: s, risk: rm, opts: opts}
}

// Run simulates the whole series. Malformed series abort with
// InvalidSeriesError; series shorter than the strategy's lookback plus a
// forming bar return InsufficientDataError.
func (e *Engine) Run(bars []model.Bar) (*Result, error) {
	if err := model.ValidateSeries(bars, e.opts.Timeframe); err != nil {
		return nil, err
	}
	if need := e.strat.Lookback() + 1; len(bars) < need {
		return nil, &model.InsufficientDataError{Have: len(bars), Need: need}
	}
	frames, err := e.strat.ComputeIndicators(bars)
	if err != nil {
		return nil, err
	}

	r := &run{
		Engine: e,
		bars:   bars,
		frames: frames,
		state:  model.NewRiskState(e.opts.InitialEquity),
		res: &Result{
			Strategy:    e.strat.Name(),
			Rejections:  make(map[risk.Reason]int),
			EquityCurve: make([]EquityPoint, 0, len(bars)),
		},
	}
	for c := range bars {
		if err := r.step(c); err != nil {
			return nil, err
		}
		r.res.EquityCurve = append(r.res.EquityCurve, EquityPoint{Time: bars[c].Time, Equity: r.state.Equity})
	}
	r.finish()

	r.res.Bars = len(bars)
	r.res.State = r.state
	e.opts.Logger.Info("backtest finished",
		"strategy", r.res.Strategy,
		"bars", r.res.Bars,
		"signals", r.res.Signals,
		"trades", len(r.res.Trades),
		"equity", r.state.Equity,
	)
	return r.res, nil
}

// run is the mutable state of one Run call.
type run struct {
	*Engine
	bars     []model.Bar
	frames   []model.Frame
	state    model.RiskState
	pos      *model.Position
	cooldown int
	res      *Result
}

func (r *run) step(c int) error {
	bar := r.bars[c]
	if risk.RollDay(&r.state, calendar.DayKey(bar.Time, r.opts.Location)) {
		r.opts.Logger.Debug("new trading day", "day", r.state.Day, "bar", c)
	}

	if r.pos != nil {
		if level, reason, hit := execution.CheckExit(*r.pos, bar); hit {
			r.close(level, reason, bar.Time)
			r.cooldown = r.opts.CooldownBars
		}
		return nil
	}
	if r.cooldown > 0 {
		r.cooldown--
		return nil
	}
	// The newest bar has no forming successor yet.
	if c+1 >= len(r.bars) || !r.frames[c].Ready {
		return nil
	}

	sig, err := r.strat.GenerateSignal(r.frames[:c+2])
	switch {
	case errors.Is(err, model.ErrInsufficientData):
		return nil
	case err != nil:
		return err
	case sig == nil:
		return nil
	}
	r.res.Signals++

	order := r.risk.ValidateAndSize(*sig, r.state)
	if !order.Accepted() {
		r.res.Rejections[risk.Reason(order.Reason)]++
		r.opts.Logger.Debug("signal vetoed",
			"bar", c, "time", bar.Time, "side", sig.Side, "reason", order.Reason)
		return nil
	}

	pos := r.opts.Fill.Open(order, r.bars[c+1].Time)
	risk.OpenPosition(&r.state, pos)
	r.pos = &pos
	r.res.Orders++
	r.opts.Logger.Debug("position opened",
		"bar", c, "side", pos.Side, "entry", pos.EntryPrice, "qty", pos.Quantity,
		"stop", pos.Stop, "target", pos.Target)
	return nil
}

func (r *run) close(level float64, reason model.ExitReason, at time.Time) {
	trade := r.opts.Fill.Close(*r.pos, level, reason, at)
	risk.Settle(&r.state, *r.pos, trade)
	r.res.Trades = append(r.res.Trades, trade)
	r.pos = nil
	r.opts.Logger.Debug("position closed",
		"reason", reason, "exit", trade.ExitPrice, "pnl", trade.PnL, "equity", r.state.Equity)
}

// finish force-closes a position still open after the last bar.
func (r *run) finish() {
	if r.pos == nil {
		return
	}
	last := r.bars[len(r.bars)-1]
	r.close(last.Close, model.ExitEndOfData, last.Time)
	r.res.EquityCurve[len(r.res.EquityCurve)-1].Equity = r.state.Equity
}
