package risk

// Reason identifies why the risk manager vetoed a signal. Vetoes are
// decisions, not failures: the caller logs them and moves to the next bar.
type Reason string

const (
	DailyLossCapReached    Reason = "DailyLossCapReached"
	MaxDrawdownExceeded    Reason = "MaxDrawdownExceeded"
	DailyTradeLimitReached Reason = "DailyTradeLimitReached"
	InvalidStopDistance    Reason = "InvalidStopDistance"
	RiskRewardTooLow       Reason = "RiskRewardTooLow"
	BelowMinimumQuantity   Reason = "BelowMinimumQuantity"
	BelowMinimumNotional   Reason = "BelowMinimumNotional"
)

// Reasons lists every veto in the order the chain evaluates them.
func Reasons() []Reason {
	return []Reason{
		DailyLossCapReached,
		MaxDrawdownExceeded,
		DailyTradeLimitReached,
		InvalidStopDistance,
		RiskRewardTooLow,
		BelowMinimumQuantity,
		BelowMinimumNotional,
	}
}
