// Package live runs a strategy against a polled bar feed.
//
// Every poll fetches a window whose last bar is still forming. Each closed bar
// not seen before goes through the same steps as a backtest bar: day roll,
// exit check of the open position, cooldown, then signal, veto chain and
// entry at the forming bar's open time.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scalper/internal/calendar"
	"scalper/internal/execution"
	"scalper/internal/marketdata"
	"scalper/internal/metrics"
	"scalper/internal/model"
	"scalper/internal/notification"
	"scalper/internal/risk"
	redisstore "scalper/internal/store/redis"
	sqlitestore "scalper/internal/store/sqlite"
	"scalper/internal/strategy"
)

// StateStore persists the session snapshot between restarts and receives
// every risk decision.
type StateStore interface {
	SaveSession(ctx context.Context, key string, sess model.Session) error
	LoadSession(ctx context.Context, key string) (model.Session, bool, error)
	PublishDecision(ctx context.Context, key string, rec redisstore.DecisionRecord) error
}

// TradeSink records closed trades.
type TradeSink interface {
	RecordTrade(ctx context.Context, run execution.Run, t model.Trade) error
}

// Options configures a session.
type Options struct {
	Symbol          string
	Timeframe       string
	RunID           string
	WindowBars      int           // bars requested per poll; 0 asks for all
	PollInterval    time.Duration // 0 polls back to back
	SummaryInterval time.Duration // 0 disables summary alerts
	CooldownBars    int
	InitialEquity   float64
	Location        *time.Location
	Logger          *slog.Logger
}

// Deps are the collaborators of a session. Feed, Executor, Strategy and Risk
// are required; the rest may be nil.
type Deps struct {
	Feed     marketdata.Feed
	Executor execution.Executor
	Strategy strategy.Strategy
	Risk     *risk.Manager

	Store    StateStore
	Journal  TradeSink
	Bars     chan<- sqlitestore.Record
	Metrics  *metrics.Metrics
	Notifier notification.Notifier
	Health   *metrics.HealthStatus
}

// Driver owns the session's RiskState, open position and cooldown.
type Driver struct {
	opts Options
	deps Deps
	log  *slog.Logger

	state    model.RiskState
	pos      *model.Position
	cooldown int
	seq      int // session index of the next closed bar
	last     time.Time
	window   []model.Bar
	trades   []model.Trade
}

// New validates the collaborators and creates a driver.
func New(opts Options, deps Deps) (*Driver, error) {
	switch {
	case deps.Feed == nil:
		return nil, errors.New("live: feed is required")
	case deps.Executor == nil:
		return nil, errors.New("live: executor is required")
	case deps.Strategy == nil:
		return nil, errors.New("live: strategy is required")
	case deps.Risk == nil:
		return nil, errors.New("live: risk manager is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{
		opts:  opts,
		deps:  deps,
		log:   opts.Logger.With("run_id", opts.RunID, "symbol", opts.Symbol),
		state: model.NewRiskState(opts.InitialEquity),
	}, nil
}

// State returns the current risk state.
func (d *Driver) State() model.RiskState { return d.state }

// Position returns the open position, if any.
func (d *Driver) Position() (model.Position, bool) {
	if d.pos == nil {
		return model.Position{}, false
	}
	return *d.pos, true
}

// Trades returns the trades closed this session.
func (d *Driver) Trades() []model.Trade {
	out := make([]model.Trade, len(d.trades))
	copy(out, d.trades)
	return out
}

func (d *Driver) stateKey() string {
	if d.opts.Timeframe == "" {
		return d.opts.Symbol
	}
	return d.opts.Symbol + ":" + d.opts.Timeframe
}

// Restore loads the persisted session, if a store is configured and holds
// one for this symbol. A position that was open when the session was saved
// is handed back to the executor, which must implement execution.Restorer.
func (d *Driver) Restore(ctx context.Context) error {
	if d.deps.Store == nil {
		return nil
	}
	sess, ok, err := d.deps.Store.LoadSession(ctx, d.stateKey())
	if err != nil {
		return fmt.Errorf("live: load session: %w", err)
	}
	if !ok {
		d.observeState()
		return nil
	}
	if sess.Position != nil {
		r, ok := d.deps.Executor.(execution.Restorer)
		if !ok {
			return errors.New("live: executor cannot adopt the persisted open position")
		}
		if err := r.Restore(*sess.Position); err != nil {
			return fmt.Errorf("live: restore position: %w", err)
		}
		pos := *sess.Position
		d.pos = &pos
		d.log.Info("open position restored",
			"side", pos.Side, "entry", pos.EntryPrice, "qty", pos.Quantity, "stop", pos.Stop, "target", pos.Target)
	}
	d.state = sess.State
	d.cooldown = sess.Cooldown
	d.log.Info("risk state restored",
		"equity", d.state.Equity, "peak", d.state.PeakEquity, "day", d.state.Day, "cooldown", d.cooldown)
	d.observeState()
	return nil
}

// Run polls the feed until ctx is cancelled or a finite feed is exhausted.
// Failed polls are logged and retried on the next tick.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("live session started",
		"strategy", d.deps.Strategy.Name(), "window", d.opts.WindowBars, "poll", d.opts.PollInterval)

	var summary <-chan time.Time
	if d.opts.SummaryInterval > 0 {
		t := time.NewTicker(d.opts.SummaryInterval)
		defer t.Stop()
		summary = t.C
	}
	var poll *time.Ticker
	if d.opts.PollInterval > 0 {
		poll = time.NewTicker(d.opts.PollInterval)
		defer poll.Stop()
	}

	for {
		err := d.Step(ctx)
		switch {
		case errors.Is(err, marketdata.ErrExhausted):
			return d.Finish(ctx)
		case ctx.Err() != nil:
			d.log.Info("live session stopped", "equity", d.state.Equity, "trades", len(d.trades))
			return ctx.Err()
		case err != nil:
			d.log.Warn("poll failed", "err", err)
		}

		if poll == nil {
			select {
			case <-ctx.Done():
			case <-summary:
				d.sendSummary(ctx)
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
		case <-summary:
			d.sendSummary(ctx)
		case <-poll.C:
		}
	}
}

// Step fetches one window and processes every closed bar in it that has not
// been processed yet. The first window only contributes its newest closed bar.
func (d *Driver) Step(ctx context.Context) error {
	started := time.Now()
	defer func() {
		if m := d.deps.Metrics; m != nil {
			m.StepDuration.Observe(time.Since(started).Seconds())
		}
	}()

	window, err := d.deps.Feed.Window(ctx, d.opts.WindowBars)
	if err != nil {
		if !errors.Is(err, marketdata.ErrExhausted) {
			if d.deps.Metrics != nil {
				d.deps.Metrics.FeedErrors.Inc()
			}
			if d.deps.Health != nil {
				d.deps.Health.SetFeedConnected(false)
			}
		}
		return err
	}
	if d.deps.Health != nil {
		d.deps.Health.SetFeedConnected(true)
	}
	d.window = window
	if len(window) < 2 {
		return nil
	}

	closed := len(window) - 1
	first := closed - 1
	if !d.last.IsZero() {
		for first > 0 && window[first-1].Time.After(d.last) {
			first--
		}
		if !window[first].Time.After(d.last) {
			return nil
		}
	}

	frames, err := d.deps.Strategy.ComputeIndicators(window)
	if err != nil && !errors.Is(err, model.ErrInsufficientData) {
		return err
	}
	for c := first; c < closed; c++ {
		if err := d.processBar(ctx, window, frames, c); err != nil {
			return err
		}
	}
	d.persist(ctx)
	return nil
}

// Finish treats the final bar of an exhausted feed as closed and flattens a
// position that is still open when the executor supports it.
func (d *Driver) Finish(ctx context.Context) error {
	if n := len(d.window); n > 0 && d.window[n-1].Time.After(d.last) {
		if err := d.processBar(ctx, d.window, nil, n-1); err != nil {
			return err
		}
	}
	if d.pos != nil {
		if f, ok := d.deps.Executor.(execution.Flattener); ok {
			last := d.window[len(d.window)-1]
			trade, err := f.Flatten(ctx, last.Close, model.ExitEndOfData, last.Time)
			if err != nil {
				return fmt.Errorf("live: flatten: %w", err)
			}
			if trade != nil {
				d.settle(ctx, *trade)
			}
		} else {
			d.log.Warn("feed exhausted with an open position", "side", d.pos.Side, "entry", d.pos.EntryPrice)
		}
	}
	d.persist(ctx)
	d.log.Info("feed exhausted", "equity", d.state.Equity, "trades", len(d.trades))
	return nil
}

// processBar handles closed bar c of window. frames may be nil while the
// strategy is still warming up, in which case only exits are checked.
func (d *Driver) processBar(ctx context.Context, window []model.Bar, frames []model.Frame, c int) error {
	bar := window[c]
	idx := d.seq
	d.seq++
	d.last = bar.Time
	d.observeBar(bar)

	if risk.RollDay(&d.state, calendar.DayKey(bar.Time, d.opts.Location)) {
		d.log.Info("new trading day", "day", d.state.Day)
	}

	if d.pos != nil {
		trade, err := d.deps.Executor.Exit(ctx, bar)
		if err != nil {
			return fmt.Errorf("live: exit check: %w", err)
		}
		if trade != nil {
			d.settle(ctx, *trade)
			d.cooldown = d.opts.CooldownBars
		}
		return nil
	}
	if d.cooldown > 0 {
		d.cooldown--
		return nil
	}
	if c+1 >= len(window) || frames == nil || !frames[c].Ready {
		return nil
	}

	sig, err := d.deps.Strategy.GenerateSignal(frames[:c+2])
	switch {
	case errors.Is(err, model.ErrInsufficientData):
		return nil
	case err != nil:
		return err
	case sig == nil:
		return nil
	}
	sig.BarIndex = idx
	if d.deps.Metrics != nil {
		d.deps.Metrics.Signals.Inc()
	}

	order := d.deps.Risk.ValidateAndSize(*sig, d.state)
	d.recordDecision(ctx, order)
	if !order.Accepted() {
		d.log.Info("signal vetoed", "time", bar.Time, "side", sig.Side, "reason", order.Reason)
		return nil
	}

	pos, err := d.deps.Executor.Open(ctx, order, window[c+1].Time)
	if err != nil {
		return fmt.Errorf("live: open: %w", err)
	}
	risk.OpenPosition(&d.state, pos)
	d.pos = &pos
	d.log.Info("position opened",
		"side", pos.Side, "entry", pos.EntryPrice, "qty", pos.Quantity, "stop", pos.Stop, "target", pos.Target)
	d.notify(ctx, notification.EntryAlert(d.opts.Symbol, pos))
	d.observeState()
	return nil
}

func (d *Driver) settle(ctx context.Context, trade model.Trade) {
	risk.Settle(&d.state, *d.pos, trade)
	d.pos = nil
	d.trades = append(d.trades, trade)
	d.log.Info("position closed",
		"reason", trade.ExitReason, "exit", trade.ExitPrice, "pnl", trade.PnL, "equity", d.state.Equity)

	if d.deps.Journal != nil {
		run := execution.Run{ID: d.opts.RunID, Symbol: d.opts.Symbol, Strategy: d.deps.Strategy.Name()}
		if err := d.deps.Journal.RecordTrade(ctx, run, trade); err != nil {
			d.log.Error("journal write failed", "err", err)
		}
	}
	if m := d.deps.Metrics; m != nil {
		m.Trades.WithLabelValues(string(trade.Side), string(trade.ExitReason)).Inc()
		m.TradePnL.Observe(trade.PnL)
	}
	d.notify(ctx, notification.ExitAlert(d.opts.Symbol, trade))
	d.observeState()
}

func (d *Driver) recordDecision(ctx context.Context, o model.Order) {
	if m := d.deps.Metrics; m != nil {
		m.Decisions.WithLabelValues(string(o.Decision), o.Reason).Inc()
	}
	if d.deps.Store == nil {
		return
	}
	rec := redisstore.NewDecisionRecord(d.opts.RunID, d.opts.Symbol, o)
	if err := d.deps.Store.PublishDecision(ctx, d.stateKey(), rec); err != nil {
		d.log.Warn("decision publish failed", "err", err)
	}
}

func (d *Driver) persist(ctx context.Context) {
	if d.deps.Store == nil {
		return
	}
	sess := model.Session{State: d.state, Cooldown: d.cooldown}
	if d.pos != nil {
		pos := *d.pos
		sess.Position = &pos
	}
	if err := d.deps.Store.SaveSession(ctx, d.stateKey(), sess); err != nil {
		d.log.Warn("session save failed", "err", err)
	}
}

func (d *Driver) notify(ctx context.Context, a notification.Alert) {
	if d.deps.Notifier == nil {
		return
	}
	if err := d.deps.Notifier.Send(ctx, a); err != nil {
		d.log.Warn("notification failed", "title", a.Title, "err", err)
	}
}

func (d *Driver) sendSummary(ctx context.Context) {
	d.notify(ctx, notification.SummaryAlert(d.opts.Symbol, d.state, d.pos != nil, time.Now().UTC()))
}

func (d *Driver) observeBar(bar model.Bar) {
	if d.deps.Bars != nil {
		rec := sqlitestore.Record{Symbol: d.opts.Symbol, Timeframe: d.opts.Timeframe, Bar: bar}
		select {
		case d.deps.Bars <- rec:
		default:
			d.log.Warn("bar writer queue full, bar not stored", "time", bar.Time)
		}
	}
	if d.deps.Health != nil {
		d.deps.Health.SetLastBarTime(bar.Time)
	}
	if m := d.deps.Metrics; m != nil {
		m.BarsProcessed.Inc()
		m.LastBarUnix.Set(float64(bar.Time.Unix()))
	}
}

func (d *Driver) observeState() {
	m := d.deps.Metrics
	if m == nil {
		return
	}
	m.Equity.Set(d.state.Equity)
	m.Drawdown.Set(d.state.Drawdown())
	m.DailyLoss.Set(d.state.DailyRealizedLoss)
	if d.pos != nil {
		m.PositionOpen.Set(1)
	} else {
		m.PositionOpen.Set(0)
	}
}
