// Package indicator computes the oscillator indicator set (fast/slow moving
// averages, oscillator, signal line, histogram, trend filter) over bar data.
//
// Moving averages implement the MovingAverage interface and are fed one
// value at a time. Compute runs them column-wise over a full bar sequence;
// Engine runs them row-wise for streaming bars. Both produce identical values.
package indicator

import (
	"strings"

	"trendcross/internal/model"
)

// MovingAverage is the interface for all smoothing primitives.
type MovingAverage interface {
	// Name returns the average type (e.g., "EMA", "SMA").
	Name() string

	// Update feeds the next value and returns the new average.
	Update(v float64) float64

	// Value returns the current average. Defined from the first value on.
	Value() float64

	// Ready returns true once period values have been seen.
	Ready() bool

	// Peek computes what Value() would be if v were fed next,
	// WITHOUT mutating internal state. Used for forming bars.
	Peek(v float64) float64

	// Reset clears the state for reuse.
	Reset()
}

// MAType selects the moving-average implementation.
type MAType string

const (
	MATypeEMA MAType = "EMA"
	MATypeSMA MAType = "SMA"
)

// ResolveMAType maps a configured name to a supported type, case-insensitively.
// Unknown or empty names resolve to EMA with ok=false so callers can report
// the fallback.
func ResolveMAType(name string) (MAType, bool) {
	switch MAType(strings.ToUpper(strings.TrimSpace(name))) {
	case MATypeEMA:
		return MATypeEMA, true
	case MATypeSMA:
		return MATypeSMA, true
	default:
		return MATypeEMA, false
	}
}

// NewMovingAverage creates an average of the given type. Unknown types fall back to EMA.
func NewMovingAverage(t MAType, period int) MovingAverage {
	if t == MATypeSMA {
		return NewSMA(period)
	}
	return NewEMA(period)
}

// Source is the bar field indicators are computed from.
type Source string

const (
	SourceOpen  Source = "open"
	SourceHigh  Source = "high"
	SourceLow   Source = "low"
	SourceClose Source = "close"
)

// ParseSource resolves a source name case-insensitively.
// Unrecognized names fall back to close; this is not an error.
func ParseSource(name string) Source {
	switch Source(strings.ToLower(strings.TrimSpace(name))) {
	case SourceOpen:
		return SourceOpen
	case SourceHigh:
		return SourceHigh
	case SourceLow:
		return SourceLow
	default:
		return SourceClose
	}
}

// Price extracts the source field from a bar.
func (s Source) Price(b *model.Bar) float64 {
	switch s {
	case SourceOpen:
		return b.Open
	case SourceHigh:
		return b.High
	case SourceLow:
		return b.Low
	default:
		return b.Close
	}
}
