package risk

import "scalper/internal/model"

// RollDay starts a new trading day when day differs from the state's current
// day, clearing the daily loss and trade counters. It reports whether a reset
// happened.
func RollDay(st *model.RiskState, day string) bool {
	if st.Day == day {
		return false
	}
	st.Day = day
	st.DailyRealizedLoss = 0
	st.TradesToday = 0
	return true
}

// OpenPosition books an entry: the fee leaves equity immediately and the trade
// counts against today's limit.
func OpenPosition(st *model.RiskState, pos model.Position) {
	st.Equity -= pos.EntryFee
	st.TradesToday++
}

// Settle books a closed trade. The entry fee was already taken at open, so
// equity moves by the net PnL plus that fee. Net losses accrue to the daily
// loss counter.
func Settle(st *model.RiskState, pos model.Position, t model.Trade) {
	st.Equity += t.PnL + pos.EntryFee
	if st.Equity > st.PeakEquity {
		st.PeakEquity = st.Equity
	}
	if t.PnL < 0 {
		st.DailyRealizedLoss += -t.PnL
	}
}
