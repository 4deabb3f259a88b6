package indicator

// EMA calculates an Exponential Moving Average seeded with the first value:
//
//	ema[0] = v[0]
//	ema[i] = v[i]*α + ema[i-1]*(1-α),  α = 2/(period+1)
//
// There is no SMA warm-up window, so every index has a value.
// O(1) per update; no window storage.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(v float64) float64 {
	e.count++
	if e.count == 1 {
		e.current = v
		return e.current
	}
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
	return e.current
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Peek computes what Value() would be with an additional value without mutating state.
func (e *EMA) Peek(v float64) float64 {
	if e.count == 0 {
		return v
	}
	return (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}
