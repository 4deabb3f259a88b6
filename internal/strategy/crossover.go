package strategy

import (
	"fmt"

	"trendcross/internal/indicator"
	"trendcross/internal/model"
)

// Evaluate classifies bar i given the indicator rows for i-1 and i.
//
// Bullish: the oscillator crosses above the signal line while both are below
// zero and the close is above the trend average. Bearish is the mirror.
// The zero-sign conditions make the two outcomes mutually exclusive.
func Evaluate(prev, cur indicator.Point, close float64) model.Signal {
	crossedUp := cur.Oscillator > cur.SignalLine && prev.Oscillator <= prev.SignalLine
	if crossedUp && cur.Oscillator < 0 && cur.SignalLine < 0 && close > cur.TrendEMA {
		return model.SignalBullish
	}
	crossedDown := cur.Oscillator < cur.SignalLine && prev.Oscillator >= prev.SignalLine
	if crossedDown && cur.Oscillator > 0 && cur.SignalLine > 0 && close < cur.TrendEMA {
		return model.SignalBearish
	}
	return model.SignalNone
}

// Detect classifies every bar of a computed frame. The result is aligned
// with bars; index 0 is always SignalNone.
func Detect(frame *indicator.Frame, bars []model.Bar) []model.Signal {
	n := frame.Len()
	if len(bars) < n {
		n = len(bars)
	}
	out := make([]model.Signal, n)
	for i := 1; i < n; i++ {
		out[i] = Evaluate(frame.At(i-1), frame.At(i), bars[i].Close)
	}
	return out
}

// Points lists the bars where a signal fired.
func Points(signals []model.Signal, bars []model.Bar) []model.SignalPoint {
	var pts []model.SignalPoint
	for i, s := range signals {
		if s == model.SignalNone {
			continue
		}
		pts = append(pts, model.SignalPoint{Index: i, TS: bars[i].TS, Price: bars[i].Close, Signal: s})
	}
	return pts
}

// Detector is the streaming form of Detect. It remembers the previous row
// so each call only needs the current one.
type Detector struct {
	prev    indicator.Point
	hasPrev bool
}

// Next classifies the current row and advances. The first call always
// returns SignalNone.
func (d *Detector) Next(cur indicator.Point, close float64) model.Signal {
	sig := model.SignalNone
	if d.hasPrev {
		sig = Evaluate(d.prev, cur, close)
	}
	d.prev = cur
	d.hasPrev = true
	return sig
}

// Reset forgets the previous row.
func (d *Detector) Reset() {
	d.prev = indicator.Point{}
	d.hasPrev = false
}

// Crossover implements the trend-filtered oscillator crossover strategy
// on top of a streaming indicator engine.
type Crossover struct {
	name   string
	engine *indicator.Engine
	det    Detector
}

// NewCrossover creates the crossover strategy. Fails with
// ErrInvalidConfiguration on bad indicator periods.
func NewCrossover(cfg indicator.Config) (*Crossover, error) {
	eng, err := indicator.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Crossover{name: "Oscillator_Crossover", engine: eng}, nil
}

func (c *Crossover) Name() string { return c.name }

// Engine exposes the underlying indicator engine (read-only use).
func (c *Crossover) Engine() *indicator.Engine { return c.engine }

// Warm updates indicators and the detector's previous row, discarding any signal.
func (c *Crossover) Warm(bar model.Bar) {
	c.det.Next(c.engine.Update(bar), bar.Close)
}

func (c *Crossover) OnBar(bar model.Bar) *Signal {
	pt := c.engine.Update(bar)
	kind := c.det.Next(pt, bar.Close)
	if kind == model.SignalNone {
		return nil
	}
	return &Signal{
		StrategyName: c.name,
		Kind:         kind,
		TS:           bar.TS,
		Price:        bar.Close,
		Point:        pt,
		Reason:       reason(kind, pt, bar.Close),
	}
}

func reason(kind model.Signal, pt indicator.Point, close float64) string {
	if kind == model.SignalBullish {
		return fmt.Sprintf("oscillator %.4f crossed above signal %.4f below zero, close %.2f > trend %.2f",
			pt.Oscillator, pt.SignalLine, close, pt.TrendEMA)
	}
	return fmt.Sprintf("oscillator %.4f crossed below signal %.4f above zero, close %.2f < trend %.2f",
		pt.Oscillator, pt.SignalLine, close, pt.TrendEMA)
}
