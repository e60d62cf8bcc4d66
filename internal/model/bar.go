package model

import "time"

// Bar is one OHLCV candle. Prices are quote-currency floats as delivered by
// the exchange; bars are never mutated after they are produced.
type Bar struct {
	Time   time.Time `json:"time"` // bucket open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Typical returns (high+low+close)/3, the price used by VWAP.
func (b Bar) Typical() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Frame is a Bar plus the indicators derived from bars [0..i].
type Frame struct {
	Bar
	FastEMA  float64 `json:"fast_ema"`
	SlowEMA  float64 `json:"slow_ema"`
	RSI      float64 `json:"rsi"`
	ATR      float64 `json:"atr"`
	VWAP     float64 `json:"vwap"`
	VolumeMA float64 `json:"volume_ma"`
	Ready    bool    `json:"ready"` // every indicator has passed its warm-up
}
