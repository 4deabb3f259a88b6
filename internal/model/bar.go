package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bar represents one closed OHLCV period for a single instrument.
// Prices are float64 exchange quote units; volume is base-asset quantity.
type Bar struct {
	TS     time.Time `json:"ts"` // period open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks the OHLC envelope: low <= {open, close} <= high, no negatives.
func (b *Bar) Validate() error {
	if b.Low < 0 || b.Volume < 0 {
		return fmt.Errorf("bar %s: negative low/volume", b.TS.Format(time.RFC3339))
	}
	if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("bar %s: ohlc out of range (o=%g h=%g l=%g c=%g)",
			b.TS.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}
	return nil
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// Series identifies a bar stream: "SYMBOL:interval".
type Series struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// Key returns "symbol:interval".
func (s Series) Key() string {
	return s.Symbol + ":" + s.Interval
}

// CheckContinuity returns ErrDataGap if timestamps are not strictly increasing
// or, when step > 0, if any two consecutive bars are not exactly step apart.
func CheckContinuity(bars []Bar, step time.Duration) error {
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].TS, bars[i].TS
		if !cur.After(prev) {
			return fmt.Errorf("bar %d at %s not after %s: %w",
				i, cur.Format(time.RFC3339), prev.Format(time.RFC3339), ErrDataGap)
		}
		if step > 0 && cur.Sub(prev) != step {
			return fmt.Errorf("bar %d: expected %v step, got %v: %w",
				i, step, cur.Sub(prev), ErrDataGap)
		}
	}
	return nil
}
