package model

import (
	"fmt"
	"math"
	"time"
)

// ValidateSeries checks that bars are strictly increasing, evenly spaced by
// step and internally consistent. A zero step is inferred from the first
// interval. The series is never repaired.
func ValidateSeries(bars []Bar, step time.Duration) error {
	if len(bars) == 0 {
		return &InvalidSeriesError{Index: 0, Reason: "empty series"}
	}
	if step <= 0 && len(bars) > 1 {
		step = bars[1].Time.Sub(bars[0].Time)
	}
	for i, b := range bars {
		if err := validateBar(b); err != nil {
			return &InvalidSeriesError{Index: i, Time: b.Time, Reason: err.Error()}
		}
		if i == 0 {
			continue
		}
		gap := b.Time.Sub(bars[i-1].Time)
		switch {
		case gap <= 0:
			return &InvalidSeriesError{Index: i, Time: b.Time, Reason: "timestamp not after previous bar"}
		case gap != step:
			return &InvalidSeriesError{Index: i, Time: b.Time, Reason: fmt.Sprintf("spacing %s, expected %s", gap, step)}
		}
	}
	return nil
}

func validateBar(b Bar) error {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value")
		}
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume %.8f", b.Volume)
	}
	if b.Low > b.High || b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return fmt.Errorf("ohlc out of range o=%.8f h=%.8f l=%.8f c=%.8f", b.Open, b.High, b.Low, b.Close)
	}
	return nil
}
