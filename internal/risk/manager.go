// Package risk sizes trade proposals and vetoes the ones that break policy.
//
// The Manager is a pure decision function over a RiskState snapshot. State
// only changes through the settlement helpers in settle.go, which the
// simulation engine and the live driver both call.
package risk

import (
	"errors"
	"fmt"
	"math"

	"scalper/internal/model"
)

// ratioEpsilon absorbs float noise when reward:risk sits exactly on the floor.
const ratioEpsilon = 1e-9

// Policy defines the risk thresholds. Percentages are fractions (0.08 = 8%).
type Policy struct {
	RiskPerTradeUSD      float64   `json:"risk_per_trade_usd" yaml:"risk_per_trade_usd"`
	MaxDailyLossUSD      float64   `json:"max_daily_loss_usd" yaml:"max_daily_loss_usd"`
	MaxDrawdownPct       float64   `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MinRiskReward        float64   `json:"min_risk_reward" yaml:"min_risk_reward"`
	MinNotional          float64   `json:"min_notional" yaml:"min_notional"`
	ATRVolatilityCapPct  float64   `json:"atr_volatility_cap_pct" yaml:"atr_volatility_cap_pct"`   // 0 disables
	MaxPositionPctEquity float64   `json:"max_position_pct_equity" yaml:"max_position_pct_equity"` // 0 disables
	MaxTradesPerDay      int       `json:"max_trades_per_day" yaml:"max_trades_per_day"`           // 0 disables
	Lot                  LotFilter `json:"lot" yaml:"lot"`
}

// DefaultPolicy returns conservative defaults for a small scalping account.
func DefaultPolicy() Policy {
	return Policy{
		RiskPerTradeUSD:     10,
		MaxDailyLossUSD:     50,
		MaxDrawdownPct:      0.20,
		MinRiskReward:       1.0,
		MinNotional:         5,
		ATRVolatilityCapPct: 0.05,
	}
}

// Validate reports every invalid threshold.
func (p Policy) Validate() error {
	var errs []error
	bad := func(field, reason string) {
		errs = append(errs, &model.ConfigurationError{Field: field, Reason: reason})
	}
	if p.RiskPerTradeUSD <= 0 {
		bad("risk_per_trade_usd", "must be > 0")
	}
	if p.MaxDailyLossUSD <= 0 {
		bad("max_daily_loss_usd", "must be > 0")
	}
	if p.MaxDrawdownPct <= 0 || p.MaxDrawdownPct > 1 {
		bad("max_drawdown_pct", fmt.Sprintf("must be a fraction in (0, 1], got %g", p.MaxDrawdownPct))
	}
	if p.MinRiskReward < 0 {
		bad("min_risk_reward", "must be >= 0")
	}
	if p.MinNotional < 0 {
		bad("min_notional", "must be >= 0")
	}
	if p.ATRVolatilityCapPct < 0 {
		bad("atr_volatility_cap_pct", "must be >= 0")
	}
	if p.MaxPositionPctEquity < 0 {
		bad("max_position_pct_equity", "must be >= 0")
	}
	if p.MaxTradesPerDay < 0 {
		bad("max_trades_per_day", "must be >= 0")
	}
	if p.Lot.StepSize < 0 || p.Lot.MinQty < 0 || p.Lot.TickSize < 0 {
		bad("lot", "filters must be >= 0")
	}
	return errors.Join(errs...)
}

// Manager validates and sizes signals against a Policy.
type Manager struct {
	policy Policy
}

// NewManager creates a Manager after validating the policy.
func NewManager(p Policy) (*Manager, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Manager{policy: p}, nil
}

// Policy returns the thresholds in force.
func (m *Manager) Policy() Policy { return m.policy }

// ValidateAndSize runs the veto chain in order and returns the first
// rejection, or an accepted order carrying the quantity. The state is a
// snapshot and is never modified.
func (m *Manager) ValidateAndSize(sig model.Signal, st model.RiskState) model.Order {
	p := m.policy
	sig.Quantity = 0
	reject := func(r Reason) model.Order {
		return model.Order{Signal: sig, Decision: model.Rejected, Reason: string(r)}
	}

	if st.DailyRealizedLoss >= p.MaxDailyLossUSD {
		return reject(DailyLossCapReached)
	}
	if st.PeakEquity > 0 && st.Drawdown() >= p.MaxDrawdownPct {
		return reject(MaxDrawdownExceeded)
	}
	if p.MaxTradesPerDay > 0 && st.TradesToday >= p.MaxTradesPerDay {
		return reject(DailyTradeLimitReached)
	}

	riskDist := math.Abs(sig.Entry - sig.Stop)
	if riskDist == 0 || sig.Validate() != nil {
		return reject(InvalidStopDistance)
	}
	reward := math.Abs(sig.Target - sig.Entry)
	if reward/riskDist < p.MinRiskReward-ratioEpsilon {
		return reject(RiskRewardTooLow)
	}

	// Dollar risk over stop distance. Leverage only changes margin, never this.
	qty := p.RiskPerTradeUSD / riskDist

	if p.ATRVolatilityCapPct > 0 && sig.Entry > 0 {
		if atrPct := sig.ATR / sig.Entry; atrPct > p.ATRVolatilityCapPct {
			qty *= p.ATRVolatilityCapPct / atrPct
		}
	}
	if p.MaxPositionPctEquity > 0 && sig.Entry > 0 {
		if maxQty := st.Equity * p.MaxPositionPctEquity / sig.Entry; qty > maxQty {
			qty = maxQty
		}
	}
	if p.Lot.StepSize > 0 || p.Lot.MinQty > 0 {
		qty = p.Lot.RoundQuantity(qty)
	}
	if qty <= 0 {
		return reject(BelowMinimumQuantity)
	}

	sig.Quantity = qty
	if qty*sig.Entry < p.MinNotional {
		return reject(BelowMinimumNotional)
	}
	return model.Order{Signal: sig, Decision: model.Accepted}
}
