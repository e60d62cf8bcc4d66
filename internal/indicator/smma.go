package indicator

// smma is a Wilder-style smoothed moving average over arbitrary inputs.
// First value is SMA(period), then SMMA = (prev*(period-1) + x) / period.
type smma struct {
	period  int
	count   int
	sum     float64
	current float64
}

func (s *smma) add(x float64) {
	s.count++

	if s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += x
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	s.current = (s.current*float64(s.period-1) + x) / float64(s.period)
}

func (s *smma) ready() bool { return s.count >= s.period }
