package execution

import (
	"time"

	"scalper/internal/model"
)

// FillModel prices fills the same way for the simulator and the paper
// executor: multiplicative slippage against the trader and a flat fee on
// notional for each leg.
type FillModel struct {
	SlippageBps float64
	FeeBps      float64
}

// EntryPrice returns the adverse fill for a market entry at price.
func (m FillModel) EntryPrice(side model.Side, price float64) float64 {
	return price * (1 + side.Sign()*m.SlippageBps/10000)
}

// ExitPrice returns the adverse fill for closing at level.
func (m FillModel) ExitPrice(side model.Side, level float64) float64 {
	return level * (1 - side.Sign()*m.SlippageBps/10000)
}

// Fee returns the fee charged on notional.
func (m FillModel) Fee(notional float64) float64 {
	return notional * m.FeeBps / 10000
}

// Open turns an accepted order into a position filled at time at.
func (m FillModel) Open(o model.Order, at time.Time) model.Position {
	sig := o.Signal
	fill := m.EntryPrice(sig.Side, sig.Entry)
	return model.Position{
		Side:       sig.Side,
		EntryPrice: fill,
		Quantity:   sig.Quantity,
		Stop:       sig.Stop,
		Target:     sig.Target,
		EntryFee:   m.Fee(fill * sig.Quantity),
		EntryTime:  at,
		BarIndex:   sig.BarIndex,
	}
}

// Close builds the trade for exiting pos at level. PnL is net of both fees.
func (m FillModel) Close(pos model.Position, level float64, reason model.ExitReason, at time.Time) model.Trade {
	exit := m.ExitPrice(pos.Side, level)
	exitFee := m.Fee(exit * pos.Quantity)
	gross := pos.Side.Sign() * (exit - pos.EntryPrice) * pos.Quantity
	fees := pos.EntryFee + exitFee
	return model.Trade{
		Side:       pos.Side,
		EntryTime:  pos.EntryTime,
		EntryPrice: pos.EntryPrice,
		ExitTime:   at,
		ExitPrice:  exit,
		ExitReason: reason,
		Quantity:   pos.Quantity,
		PnL:        gross - fees,
		Fees:       fees,
		BarIndex:   pos.BarIndex,
	}
}

// CheckExit reports whether bar touched the stop or target of pos. When both
// are inside the bar's range the stop wins: OHLC cannot order them.
func CheckExit(pos model.Position, bar model.Bar) (float64, model.ExitReason, bool) {
	if pos.Side == model.Long {
		switch {
		case bar.Low <= pos.Stop:
			return pos.Stop, model.ExitStop, true
		case bar.High >= pos.Target:
			return pos.Target, model.ExitTarget, true
		}
		return 0, "", false
	}
	switch {
	case bar.High >= pos.Stop:
		return pos.Stop, model.ExitStop, true
	case bar.Low <= pos.Target:
		return pos.Target, model.ExitTarget, true
	}
	return 0, "", false
}
