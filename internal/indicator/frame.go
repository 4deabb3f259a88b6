package indicator

import (
	"fmt"

	"trendcross/internal/model"
)

// Point is one row of indicator output for a single bar.
type Point struct {
	FastMA     float64 `json:"fast_ma"`
	SlowMA     float64 `json:"slow_ma"`
	Oscillator float64 `json:"oscillator"`
	SignalLine float64 `json:"signal_line"`
	Histogram  float64 `json:"histogram"`
	TrendEMA   float64 `json:"trend_ema"`
}

// Frame holds indicator columns aligned 1:1 with the input bars.
type Frame struct {
	FastMA     []float64 `json:"fast_ma"`
	SlowMA     []float64 `json:"slow_ma"`
	Oscillator []float64 `json:"oscillator"`
	SignalLine []float64 `json:"signal_line"`
	Histogram  []float64 `json:"histogram"`
	TrendEMA   []float64 `json:"trend_ema"`
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Oscillator) }

// At returns row i.
func (f *Frame) At(i int) Point {
	return Point{
		FastMA:     f.FastMA[i],
		SlowMA:     f.SlowMA[i],
		Oscillator: f.Oscillator[i],
		SignalLine: f.SignalLine[i],
		Histogram:  f.Histogram[i],
		TrendEMA:   f.TrendEMA[i],
	}
}

// Compute produces the full indicator frame for bars.
// Fails with ErrInvalidConfiguration on bad periods or an empty sequence.
func Compute(bars []model.Bar, cfg Config) (*Frame, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("empty bar sequence: %w", model.ErrInvalidConfiguration)
	}
	r := cfg.resolve()

	n := len(bars)
	prices := make([]float64, n)
	for i := range bars {
		prices[i] = r.source.Price(&bars[i])
	}

	f := &Frame{
		FastMA:    run(NewMovingAverage(r.oscType, cfg.FastPeriod), prices),
		SlowMA:    run(NewMovingAverage(r.oscType, cfg.SlowPeriod), prices),
		TrendEMA:  run(NewEMA(cfg.TrendPeriod), prices),
		Histogram: make([]float64, n),
	}
	f.Oscillator = make([]float64, n)
	for i := 0; i < n; i++ {
		f.Oscillator[i] = f.FastMA[i] - f.SlowMA[i]
	}
	f.SignalLine = run(NewMovingAverage(r.signalTyp, cfg.SignalPeriod), f.Oscillator)
	for i := 0; i < n; i++ {
		f.Histogram[i] = f.Oscillator[i] - f.SignalLine[i]
	}
	return f, nil
}

// run feeds values through ma and returns the per-index averages.
func run(ma MovingAverage, values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = ma.Update(v)
	}
	return out
}
