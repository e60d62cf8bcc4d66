package indicator

import (
	"strconv"

	"scalper/internal/model"
)

// Field selects the bar value an SMA averages.
type Field func(model.Bar) float64

// Close and Volume are the two fields the strategies average.
func Close(b model.Bar) float64  { return b.Close }
func Volume(b model.Bar) float64 { return b.Volume }

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	field   Field
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA over the given field.
func NewSMA(period int, field Field) *SMA {
	return &SMA{
		period: period,
		field:  field,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(bar model.Bar) {
	x := s.field(bar)

	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = x
	s.sum += x
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }
