package backtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"trendcross/internal/logger"
	"trendcross/internal/model"
	"trendcross/internal/portfolio"
	"trendcross/internal/strategy"
)

// ErrSessionClosed is returned by Push after Close.
var ErrSessionClosed = errors.New("session closed")

// Session runs the engine incrementally over live closed bars. Push is
// serialized by a mutex so each bar is fully processed (indicators, signal,
// transition, event dispatch) before the next is admitted.
type Session struct {
	mu sync.Mutex

	id      string
	series  model.Series
	cfg     Config
	strat   strategy.Strategy
	machine *portfolio.Machine
	sinks   []model.EventSink

	last   *model.Bar
	count  int
	closed bool
}

// NewSession creates a flat session. Fails with ErrInvalidConfiguration.
func NewSession(series model.Series, cfg Config, sinks ...model.EventSink) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strat, err := strategy.NewCrossover(cfg.Indicator)
	if err != nil {
		return nil, err
	}
	m, err := portfolio.NewMachine(cfg.Risk, cfg.AllowShort)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:      logger.NewRunID(),
		series:  series,
		cfg:     cfg,
		strat:   strat,
		machine: m,
		sinks:   sinks,
	}, nil
}

// ID returns the session's run ID.
func (s *Session) ID() string { return s.id }

// Series returns the series this session trades.
func (s *Session) Series() model.Series { return s.series }

// Warmup feeds historical bars into the indicators only. Warm-up bars
// never produce signals or open positions.
func (s *Session) Warmup(bars []model.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range bars {
		if err := s.admit(&bars[i]); err != nil {
			return err
		}
		s.strat.Warm(bars[i])
		b := bars[i]
		s.last = &b
		s.count++
	}
	return nil
}

// Push processes one closed bar and returns the events it produced, in
// order: market_data, then signal (if any), then entry or exit (if any).
// Bars not strictly after the previous bar are rejected with ErrDataGap.
// Sink errors are logged, not returned.
func (s *Session) Push(ctx context.Context, bar model.Bar) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if err := s.admit(&bar); err != nil {
		return nil, err
	}
	s.last = &bar
	s.count++

	b := bar
	events := []model.Event{{Type: model.EventBar, Series: s.series, TS: bar.TS, Price: bar.Close, Bar: &b}}

	kind := model.SignalNone
	if sig := s.strat.OnBar(bar); sig != nil {
		kind = sig.Kind
		events = append(events, model.Event{
			Type: model.EventSignal, Series: s.series, TS: bar.TS, Signal: kind, Price: bar.Close,
		})
	}

	opened, closed := s.machine.Step(bar, kind)
	if opened != nil {
		events = append(events, model.Event{
			Type: model.EventEntry, Series: s.series, TS: bar.TS, Price: opened.EntryPrice, Position: opened,
		})
	}
	if closed != nil {
		events = append(events, model.Event{
			Type: model.EventExit, Series: s.series, TS: bar.TS, Price: closed.ExitPrice, Trade: closed,
		})
	}

	s.dispatch(ctx, events)
	return events, nil
}

// Close force-closes any open position at the last bar's close with reason
// EndOfPeriod and stops accepting bars. Returns the closing trade, if any.
func (s *Session) Close(ctx context.Context) *model.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.last == nil {
		return nil
	}
	tr := s.machine.Finish(*s.last)
	if tr != nil {
		s.dispatch(ctx, []model.Event{{
			Type: model.EventExit, Series: s.series, TS: s.last.TS, Price: tr.ExitPrice, Trade: tr,
		}})
	}
	return tr
}

// Run consumes bars until ctx is cancelled or bars is closed, then calls Close.
func (s *Session) Run(ctx context.Context, bars <-chan model.Bar) {
	defer s.Close(context.WithoutCancel(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-bars:
			if !ok {
				return
			}
			if _, err := s.Push(ctx, bar); err != nil {
				log.Printf("[session] %s: dropped bar %s: %v", s.series.Key(), bar.TS.Format(time.RFC3339), err)
			}
		}
	}
}

// Position returns the open position, or nil when flat.
func (s *Session) Position() *model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Position()
}

// Trades returns the closed trades so far.
func (s *Session) Trades() []model.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Trades()
}

// Summary recomputes performance over the closed trades so far.
func (s *Session) Summary() model.Summary {
	return portfolio.Summarize(s.Trades())
}

// Count returns the number of bars admitted, warm-up included.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Session) admit(bar *model.Bar) error {
	if s.last != nil && !bar.TS.After(s.last.TS) {
		return fmt.Errorf("bar %s not after %s: %w",
			bar.TS.Format(time.RFC3339), s.last.TS.Format(time.RFC3339), model.ErrDataGap)
	}
	return nil
}

func (s *Session) dispatch(ctx context.Context, events []model.Event) {
	for _, ev := range events {
		for _, sink := range s.sinks {
			if err := sink.HandleEvent(ctx, ev); err != nil {
				log.Printf("[session] %s: sink error on %s: %v", s.series.Key(), ev.Type, err)
			}
		}
	}
}
