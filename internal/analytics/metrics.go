// Package analytics reduces a trade log to performance statistics.
package analytics

import (
	"encoding/json"
	"math"

	"scalper/internal/model"
)

// Options tune the ratio calculations.
type Options struct {
	RiskFreeRate   float64 // annual
	PeriodsPerYear float64 // annualisation factor; 0 leaves ratios per trade
}

// DefaultOptions annualise per-trade returns over 252 periods.
func DefaultOptions() Options {
	return Options{PeriodsPerYear: 252}
}

// Report holds aggregate performance figures. Percentages are fractions.
type Report struct {
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalFees      float64 `json:"total_fees"`
	TotalReturnPct float64 `json:"total_return_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"` // +Inf when there are wins and no losses
	Expectancy     float64 `json:"expectancy"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
}

// MarshalJSON writes an infinite profit factor as null.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	out := struct {
		plain
		ProfitFactor *float64 `json:"profit_factor"`
	}{plain: plain(r)}
	if !math.IsInf(r.ProfitFactor, 0) {
		out.ProfitFactor = &r.ProfitFactor
	}
	return json.Marshal(out)
}

// Summarize computes the report for trades executed from initialEquity.
func Summarize(trades []model.Trade, initialEquity float64, opts Options) Report {
	r := Report{Trades: len(trades)}
	if len(trades) == 0 {
		return r
	}

	pnls := make([]float64, len(trades))
	returns := make([]float64, len(trades))
	curve := make([]float64, 0, len(trades)+1)
	equity := initialEquity
	curve = append(curve, equity)
	var grossWin, grossLoss float64
	for i, t := range trades {
		pnls[i] = t.PnL
		if equity != 0 {
			returns[i] = t.PnL / equity
		}
		equity += t.PnL
		curve = append(curve, equity)

		r.TotalPnL += t.PnL
		r.TotalFees += t.Fees
		switch {
		case t.PnL > 0:
			r.Wins++
			grossWin += t.PnL
		case t.PnL < 0:
			r.Losses++
			grossLoss += -t.PnL
		}
	}

	if initialEquity != 0 {
		r.TotalReturnPct = r.TotalPnL / initialEquity
	}
	r.SharpeRatio = SharpeRatio(returns, opts)
	r.SortinoRatio = SortinoRatio(returns, opts)
	r.MaxDrawdownPct = MaxDrawdown(curve)
	r.WinRate = float64(r.Wins) / float64(len(trades))
	r.ProfitFactor = ProfitFactor(pnls)
	r.Expectancy = r.TotalPnL / float64(len(trades))
	if r.Wins > 0 {
		r.AvgWin = grossWin / float64(r.Wins)
	}
	if r.Losses > 0 {
		r.AvgLoss = -grossLoss / float64(r.Losses)
	}
	return r
}

// SharpeRatio returns mean excess return over its population standard
// deviation, scaled by sqrt(PeriodsPerYear). Constant returns give 0.
func SharpeRatio(returns []float64, opts Options) float64 {
	if len(returns) == 0 {
		return 0
	}
	excess := excessReturns(returns, opts)
	sd := populationStdDev(excess)
	if sd <= 1e-12 {
		return 0
	}
	return annualise(mean(excess)/sd, opts)
}

// SortinoRatio divides mean excess return by the downside deviation. With no
// downside it falls back to the Sharpe ratio.
func SortinoRatio(returns []float64, opts Options) float64 {
	if len(returns) == 0 {
		return 0
	}
	excess := excessReturns(returns, opts)
	var sumSq float64
	for _, x := range excess {
		if x < 0 {
			sumSq += x * x
		}
	}
	dd := math.Sqrt(sumSq / float64(len(excess)))
	if dd <= 1e-12 {
		return SharpeRatio(returns, opts)
	}
	return annualise(mean(excess)/dd, opts)
}

// MaxDrawdown returns the largest peak-to-trough fall of an equity curve as
// a positive fraction of the peak.
func MaxDrawdown(curve []float64) float64 {
	var peak, worst float64
	for i, v := range curve {
		if i == 0 || v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// ProfitFactor is gross profit over gross loss.
func ProfitFactor(pnls []float64) float64 {
	var wins, losses float64
	for _, p := range pnls {
		if p > 0 {
			wins += p
		} else {
			losses -= p
		}
	}
	if losses <= 0 {
		if wins > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return wins / losses
}

func excessReturns(returns []float64, opts Options) []float64 {
	rf := 0.0
	if opts.PeriodsPerYear > 0 {
		rf = opts.RiskFreeRate / opts.PeriodsPerYear
	}
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r - rf
	}
	return out
}

func annualise(ratio float64, opts Options) float64 {
	if opts.PeriodsPerYear <= 0 {
		return ratio
	}
	return ratio * math.Sqrt(opts.PeriodsPerYear)
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func populationStdDev(xs []float64) float64 {
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(len(xs)))
}
