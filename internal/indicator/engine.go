package indicator

import (
	"trendcross/internal/model"
)

// Engine computes the indicator set incrementally, one closed bar at a time.
// Values are identical to Compute over the same prefix of bars.
// Not safe for concurrent use; callers serialize Update.
type Engine struct {
	cfg    Config
	source Source

	fast   MovingAverage
	slow   MovingAverage
	signal MovingAverage
	trend  MovingAverage

	count int
	last  Point
}

// NewEngine creates a streaming indicator engine. Fails with
// ErrInvalidConfiguration on bad periods.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := cfg.resolve()
	return &Engine{
		cfg:    cfg,
		source: r.source,
		fast:   NewMovingAverage(r.oscType, cfg.FastPeriod),
		slow:   NewMovingAverage(r.oscType, cfg.SlowPeriod),
		signal: NewMovingAverage(r.signalTyp, cfg.SignalPeriod),
		trend:  NewEMA(cfg.TrendPeriod),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Update feeds a closed bar and returns its indicator row.
func (e *Engine) Update(bar model.Bar) Point {
	price := e.source.Price(&bar)
	fast := e.fast.Update(price)
	slow := e.slow.Update(price)
	osc := fast - slow
	sig := e.signal.Update(osc)

	e.last = Point{
		FastMA:     fast,
		SlowMA:     slow,
		Oscillator: osc,
		SignalLine: sig,
		Histogram:  osc - sig,
		TrendEMA:   e.trend.Update(price),
	}
	e.count++
	return e.last
}

// Peek computes the row a forming bar would produce, WITHOUT mutating state.
// Used for live dashboard previews only; signals are never taken from Peek.
func (e *Engine) Peek(bar model.Bar) Point {
	price := e.source.Price(&bar)
	fast := e.fast.Peek(price)
	slow := e.slow.Peek(price)
	osc := fast - slow
	sig := e.signal.Peek(osc)
	return Point{
		FastMA:     fast,
		SlowMA:     slow,
		Oscillator: osc,
		SignalLine: sig,
		Histogram:  osc - sig,
		TrendEMA:   e.trend.Peek(price),
	}
}

// Last returns the most recent row and whether any bar has been processed.
func (e *Engine) Last() (Point, bool) { return e.last, e.count > 0 }

// Count returns the number of bars processed.
func (e *Engine) Count() int { return e.count }

// Ready reports whether every average has seen at least its period of values.
func (e *Engine) Ready() bool {
	return e.fast.Ready() && e.slow.Ready() && e.signal.Ready() && e.trend.Ready()
}

// Reset clears all state.
func (e *Engine) Reset() {
	e.fast.Reset()
	e.slow.Reset()
	e.signal.Reset()
	e.trend.Reset()
	e.count = 0
	e.last = Point{}
}
