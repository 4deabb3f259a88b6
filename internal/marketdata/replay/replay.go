// Package replay reads stored bars and re-emits them at a configurable
// speed, so the live pipeline can be exercised offline.
package replay

import (
	"context"
	"log"
	"time"

	"trendcross/internal/model"
)

// Replayer reads historical bars from a BarReader and replays them
// at a configurable speed multiplier.
type Replayer struct {
	reader model.BarReader

	// MaxGap caps the sleep between two bars.
	MaxGap time.Duration
}

// New creates a Replayer backed by a bar reader.
func New(reader model.BarReader) *Replayer {
	return &Replayer{reader: reader, MaxGap: 5 * time.Second}
}

// Run replays bars for series with TS >= from, emitting them into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// Returns the number of bars emitted.
func (r *Replayer) Run(ctx context.Context, series model.Series, from time.Time, speed float64, outCh chan<- model.Bar) (int, error) {
	bars, err := r.reader.ReadBars(ctx, series, from, time.Time{})
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		log.Printf("[replay] no bars found for %s", series.Key())
		return 0, nil
	}

	log.Printf("[replay] loaded %d bars for %s, speed=%.1fx", len(bars), series.Key(), speed)

	var prevTS time.Time
	emitted := 0

	for _, b := range bars {
		// Simulate time gaps between bars
		if speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if r.MaxGap > 0 && scaled > r.MaxGap {
					scaled = r.MaxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = b.TS

		select {
		case outCh <- b:
			emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}
