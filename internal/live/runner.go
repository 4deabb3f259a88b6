// Package live wires a trading session to a bar feed: warm-up from
// history, a fan-out of closed bars to the session and the bar store, and
// event delivery to the configured sinks.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trendcross/internal/backtest"
	"trendcross/internal/logger"
	"trendcross/internal/marketdata/bus"
	"trendcross/internal/model"
)

// BarStream produces closed bars until ctx is cancelled or the feed ends.
type BarStream interface {
	Run(ctx context.Context, out chan<- model.Bar) error
}

// BarStreamFunc adapts a function to BarStream.
type BarStreamFunc func(ctx context.Context, out chan<- model.Bar) error

// Run calls f(ctx, out).
func (f BarStreamFunc) Run(ctx context.Context, out chan<- model.Bar) error { return f(ctx, out) }

// BarRecorder persists bars read from a channel until it closes.
type BarRecorder interface {
	RunBars(ctx context.Context, series model.Series, in <-chan model.Bar)
}

// Options configures a Runner. Stream is required; History and Recorder
// are optional.
type Options struct {
	Series     model.Series
	Config     backtest.Config
	WarmupBars int

	Stream   BarStream
	History  model.HistoricalSource
	Recorder BarRecorder
	Sinks    []model.EventSink

	// OnDrop is called when the recorder falls behind and a bar is dropped.
	OnDrop func(subscriberIdx int)
}

// Runner drives one live session.
type Runner struct {
	opts    Options
	session *backtest.Session
	now     func() time.Time
}

// NewRunner validates opts and creates a flat session.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Stream == nil {
		return nil, fmt.Errorf("live %s: no bar stream", opts.Series.Key())
	}
	sess, err := backtest.NewSession(opts.Series, opts.Config, opts.Sinks...)
	if err != nil {
		return nil, err
	}
	return &Runner{opts: opts, session: sess, now: time.Now}, nil
}

// Session exposes the underlying session for status queries.
func (r *Runner) Session() *backtest.Session { return r.session }

// Warmup loads the most recent WarmupBars closed bars from History into the
// indicators. It is a no-op without History, a bar step or a bar count.
func (r *Runner) Warmup(ctx context.Context) (int, error) {
	step := r.opts.Config.Step
	if r.opts.History == nil || step <= 0 || r.opts.WarmupBars <= 0 {
		return 0, nil
	}
	end := r.now()
	start := end.Add(-time.Duration(r.opts.WarmupBars) * step)
	bars, err := r.opts.History.Klines(ctx, r.opts.Series, start, end)
	if err != nil {
		return 0, fmt.Errorf("warmup %s: %w", r.opts.Series.Key(), err)
	}
	if err := r.session.Warmup(bars); err != nil {
		return 0, fmt.Errorf("warmup %s: %w", r.opts.Series.Key(), err)
	}
	return len(bars), nil
}

// Run streams bars into the session until ctx is cancelled or the stream
// ends, then closes the session (force-closing any open position).
// Cancellation is not an error.
func (r *Runner) Run(ctx context.Context) error {
	ctx = logger.WithRunID(ctx, r.session.ID())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	raw := make(chan model.Bar, 64)
	fan := bus.New[model.Bar](256)
	fan.OnDrop = r.opts.OnDrop
	sessCh := fan.SubscribeLossless()
	var storeCh <-chan model.Bar
	if r.opts.Recorder != nil {
		storeCh = fan.Subscribe()
	}

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- r.opts.Stream.Run(ctx, raw)
		close(raw)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fan.Run(ctx, raw)
	}()
	if storeCh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.opts.Recorder.RunBars(ctx, r.opts.Series, storeCh)
		}()
	}

	slog.Info("live session started", append(logger.LogWithRun(ctx), "series", r.opts.Series.Key())...)
	r.session.Run(ctx, sessCh)
	cancel()
	wg.Wait()

	s := r.session.Summary()
	slog.Info("live session stopped", append(logger.LogWithRun(ctx),
		"series", r.opts.Series.Key(),
		"bars", r.session.Count(),
		"trades", s.TotalTrades,
		"total_return_pct", s.TotalReturn)...)

	if err := <-streamErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
