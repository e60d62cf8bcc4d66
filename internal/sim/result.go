package sim

import (
	"time"

	"scalper/internal/model"
	"scalper/internal/risk"
)

// EquityPoint is realized equity after a bar was processed.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Result is the output of one run.
type Result struct {
	Strategy    string              `json:"strategy"`
	Bars        int                 `json:"bars"`
	Signals     int                 `json:"signals"`
	Orders      int                 `json:"orders"`
	Trades      []model.Trade       `json:"trades"`
	State       model.RiskState     `json:"state"`
	EquityCurve []EquityPoint       `json:"equity_curve"`
	Rejections  map[risk.Reason]int `json:"rejections"`
}

// ReasonCount pairs a veto reason with its count.
type ReasonCount struct {
	Reason risk.Reason
	Count  int
}

// RejectionCounts lists non-zero rejections in veto-chain order.
func (r *Result) RejectionCounts() []ReasonCount {
	var out []ReasonCount
	for _, reason := range risk.Reasons() {
		if n := r.Rejections[reason]; n > 0 {
			out = append(out, ReasonCount{Reason: reason, Count: n})
		}
	}
	return out
}
