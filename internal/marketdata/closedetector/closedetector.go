// Package closedetector tracks which kline periods of a stream have been
// closed, for streams that can lose the exchange's final message (typically
// across a reconnect). Previews are never promoted to closes: when a preview
// of a later period shows that final klines were missed, the detector
// reports the missing range so the caller can fetch the real klines.
package closedetector

import (
	"time"

	"trendcross/internal/model"
)

// Gap is a run of periods whose final klines were not seen, by open time
// in [From, To).
type Gap struct {
	From time.Time
	To   time.Time
}

// Detector tracks the open period of one series. Not safe for concurrent use.
type Detector struct {
	step       time.Duration
	pending    *model.Bar
	lastClosed time.Time
	reported   time.Time

	// Gaps counts missing ranges reported by Forming.
	Gaps int
}

// New creates an empty Detector for periods of length step.
func New(step time.Duration) *Detector {
	return &Detector{step: step}
}

// Closed records a final kline and reports whether it should be emitted.
// A final kline for any period after the last emitted close is accepted,
// including one that arrives after a later period's previews. Bars not
// newer than the last close (replays after reconnect) return false.
func (d *Detector) Closed(bar model.Bar) bool {
	if !d.lastClosed.IsZero() && !bar.TS.After(d.lastClosed) {
		return false
	}
	d.lastClosed = bar.TS
	if d.pending != nil && !d.pending.TS.After(bar.TS) {
		d.pending = nil
	}
	return true
}

// Forming records a preview. It returns the range of periods before the
// preview whose final klines have not been emitted, at most once per
// preview period.
func (d *Detector) Forming(bar model.Bar) (Gap, bool) {
	if !d.lastClosed.IsZero() && !bar.TS.After(d.lastClosed) {
		return Gap{}, false
	}
	prev := d.pending
	b := bar
	d.pending = &b

	var from time.Time
	switch {
	case !d.lastClosed.IsZero() && d.step > 0:
		from = d.lastClosed.Add(d.step)
	case prev != nil:
		from = prev.TS
	default:
		return Gap{}, false
	}
	if !from.Before(bar.TS) || bar.TS.Equal(d.reported) {
		return Gap{}, false
	}
	d.reported = bar.TS
	d.Gaps++
	return Gap{From: from, To: bar.TS}, true
}

// Pending returns the latest preview of the open period, if any.
func (d *Detector) Pending() (model.Bar, bool) {
	if d.pending == nil {
		return model.Bar{}, false
	}
	return *d.pending, true
}

// LastClosed returns the open time of the newest emitted close.
func (d *Detector) LastClosed() time.Time {
	return d.lastClosed
}
