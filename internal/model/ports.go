package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// The core engine only consumes []Bar and produces []Trade / Summary / Event.
// These interfaces decouple the binaries from concrete data providers and
// stores (Binance, SQLite, Redis).

// HistoricalSource fetches closed bars for a series over a time range.
type HistoricalSource interface {
	// Klines returns bars with open time in [start, end), oldest first.
	Klines(ctx context.Context, series Series, start, end time.Time) ([]Bar, error)
}

// BarReader reads stored bars for backtests and replay.
type BarReader interface {
	// ReadBars returns bars with from <= ts < to (zero to = no upper bound), oldest first.
	ReadBars(ctx context.Context, series Series, from, to time.Time) ([]Bar, error)

	// Close releases underlying resources.
	Close() error
}

// BarWriter persists closed bars.
type BarWriter interface {
	// SaveBars upserts bars in a single transaction.
	SaveBars(ctx context.Context, series Series, bars []Bar) error

	// Close releases underlying resources.
	Close() error
}

// EventSink receives live session events in emission order.
type EventSink interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

// HandleEvent calls f(ctx, ev).
func (f EventSinkFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
