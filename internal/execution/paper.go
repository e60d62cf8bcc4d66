package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scalper/internal/model"
)

// Fill records one simulated execution leg.
type Fill struct {
	OrderID  string     `json:"order_id"`
	Side     model.Side `json:"side"`
	Entry    bool       `json:"entry"`
	Price    float64    `json:"price"`
	Quantity float64    `json:"quantity"`
	Fee      float64    `json:"fee"`
	FilledAt time.Time  `json:"filled_at"`
}

// PriceRounder rounds protective prices to the exchange tick.
type PriceRounder interface {
	RoundPrice(p float64) float64
}

// PaperExecutor simulates execution without exchange calls. Protective
// orders trigger against each closed bar with the same stop-first rule as the
// simulator.
type PaperExecutor struct {
	mu       sync.Mutex
	model    FillModel
	rounder  PriceRounder
	pos      *model.Position
	fills    []Fill
	orderSeq int64
}

// NewPaperExecutor creates a paper executor. rounder may be nil.
func NewPaperExecutor(m FillModel, rounder PriceRounder) *PaperExecutor {
	return &PaperExecutor{
		model:   m,
		rounder: rounder,
		fills:   make([]Fill, 0, 256),
	}
}

// Open fills the order at its entry price plus slippage.
func (p *PaperExecutor) Open(_ context.Context, o model.Order, at time.Time) (model.Position, error) {
	if !o.Accepted() {
		return model.Position{}, fmt.Errorf("paper: order not accepted: %s", o.Reason)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos != nil {
		return model.Position{}, ErrPositionOpen
	}

	if p.rounder != nil {
		o.Signal.Stop = p.rounder.RoundPrice(o.Signal.Stop)
		o.Signal.Target = p.rounder.RoundPrice(o.Signal.Target)
	}
	pos := p.model.Open(o, at)
	p.pos = &pos
	p.record(Fill{Side: pos.Side, Entry: true, Price: pos.EntryPrice, Quantity: pos.Quantity, Fee: pos.EntryFee, FilledAt: at})

	slog.Info("paper entry filled",
		"side", pos.Side, "price", pos.EntryPrice, "qty", pos.Quantity,
		"stop", pos.Stop, "target", pos.Target)
	return pos, nil
}

// Exit checks the open position against bar.
func (p *PaperExecutor) Exit(_ context.Context, bar model.Bar) (*model.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos == nil {
		return nil, nil
	}
	level, reason, hit := CheckExit(*p.pos, bar)
	if !hit {
		return nil, nil
	}
	pos := *p.pos
	trade := p.model.Close(pos, level, reason, bar.Time)
	p.pos = nil
	p.record(Fill{Side: trade.Side, Price: trade.ExitPrice, Quantity: trade.Quantity, Fee: trade.Fees - pos.EntryFee, FilledAt: bar.Time})

	slog.Info("paper exit filled",
		"side", trade.Side, "reason", trade.ExitReason, "price", trade.ExitPrice, "pnl", trade.PnL)
	return &trade, nil
}

// Flatten closes the open position at price with the usual exit slippage and
// fee. It returns nil when no position is open.
func (p *PaperExecutor) Flatten(_ context.Context, price float64, reason model.ExitReason, at time.Time) (*model.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos == nil {
		return nil, nil
	}
	pos := *p.pos
	trade := p.model.Close(pos, price, reason, at)
	p.pos = nil
	p.record(Fill{Side: trade.Side, Price: trade.ExitPrice, Quantity: trade.Quantity, Fee: trade.Fees - pos.EntryFee, FilledAt: at})

	slog.Info("paper position flattened", "side", trade.Side, "reason", reason, "price", trade.ExitPrice, "pnl", trade.PnL)
	return &trade, nil
}

// Restore adopts pos as the open position so its protective orders are
// checked from the next bar on. No fill is recorded.
func (p *PaperExecutor) Restore(pos model.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos != nil {
		return ErrPositionOpen
	}
	p.pos = &pos
	slog.Info("paper position restored", "side", pos.Side, "entry", pos.EntryPrice, "qty", pos.Quantity)
	return nil
}

// Position returns the open position, if any.
func (p *PaperExecutor) Position() (model.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos == nil {
		return model.Position{}, false
	}
	return *p.pos, true
}

// Fills returns a snapshot of all fills.
func (p *PaperExecutor) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *PaperExecutor) record(f Fill) {
	p.orderSeq++
	f.OrderID = fmt.Sprintf("PAPER-%d", p.orderSeq)
	p.fills = append(p.fills, f)
}
