package notification

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"trendcross/internal/model"
)

// DefaultMaxAge is the freshness window for signal alerts.
const DefaultMaxAge = 30 * time.Second

type alertKey struct {
	series model.Series
	signal model.Signal
}

// SignalAlerter turns live session events into alerts. Each crossover is
// sent once per (series, side, bar) and only while it is fresh: a signal
// whose bar closed more than MaxAge ago (a warm-up or replayed bar) is
// recorded but not sent. Closed trades are always sent.
type SignalAlerter struct {
	notifier Notifier

	// MaxAge bounds the delay between bar close and alert.
	MaxAge time.Duration
	// Step returns the bar duration of an interval, used to find bar close
	// time. Nil or zero means the event TS is treated as the close.
	Step func(interval string) time.Duration
	// Location formats times in alerts. Defaults to UTC.
	Location *time.Location
	// OnFailure is called when a backend rejects an alert (for metrics).
	OnFailure func(err error)

	now func() time.Time

	mu   sync.Mutex
	last map[alertKey]time.Time
}

// NewSignalAlerter creates an alerter delivering through n.
func NewSignalAlerter(n Notifier, maxAge time.Duration) *SignalAlerter {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &SignalAlerter{
		notifier: n,
		MaxAge:   maxAge,
		Location: time.UTC,
		now:      time.Now,
		last:     make(map[alertKey]time.Time),
	}
}

// HandleEvent implements model.EventSink. Delivery failures are reported
// through OnFailure and the returned error.
func (a *SignalAlerter) HandleEvent(ctx context.Context, ev model.Event) error {
	var alert Alert
	switch ev.Type {
	case model.EventSignal:
		if !a.shouldSend(ev) {
			return nil
		}
		alert = a.signalAlert(ev)
	case model.EventExit:
		if ev.Trade == nil {
			return nil
		}
		alert = a.exitAlert(ev)
	default:
		return nil
	}

	if err := a.notifier.Send(ctx, alert); err != nil {
		if a.OnFailure != nil {
			a.OnFailure(err)
		}
		return fmt.Errorf("alert %s: %w", alert.Title, err)
	}
	return nil
}

// shouldSend records the signal and reports whether it is new and fresh.
func (a *SignalAlerter) shouldSend(ev model.Event) bool {
	key := alertKey{series: ev.Series, signal: ev.Signal}

	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.last[key]; ok && prev.Equal(ev.TS) {
		return false
	}
	a.last[key] = ev.TS

	age := a.now().Sub(a.closeTime(ev))
	if age < 0 || age > a.MaxAge {
		log.Printf("[alerter] skip stale %s %s signal (age %v)", ev.Series.Key(), ev.Signal, age.Round(time.Second))
		return false
	}
	return true
}

func (a *SignalAlerter) closeTime(ev model.Event) time.Time {
	if a.Step != nil {
		return ev.TS.Add(a.Step(ev.Series.Interval))
	}
	return ev.TS
}

func (a *SignalAlerter) fmtTime(t time.Time) string {
	loc := a.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04 MST")
}

func (a *SignalAlerter) signalAlert(ev model.Event) Alert {
	title, level := "Buy Signal", AlertInfo
	if ev.Signal == model.SignalBearish {
		title, level = "Short Signal", AlertWarning
	}
	return Alert{
		Level: level,
		Title: title,
		Fields: []Field{
			{"Symbol", ev.Series.Symbol},
			{"TF", ev.Series.Interval},
			{"Price", strconv.FormatFloat(ev.Price, 'f', 6, 64)},
			{"Time", a.fmtTime(a.closeTime(ev))},
			{"Sent", a.fmtTime(a.now())},
		},
	}
}

func (a *SignalAlerter) exitAlert(ev model.Event) Alert {
	t := ev.Trade
	level := AlertInfo
	if t.Reason == model.ExitStopLoss {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s exit (%s)", t.Side, t.Reason),
		Fields: []Field{
			{"Symbol", ev.Series.Symbol},
			{"TF", ev.Series.Interval},
			{"Entry", strconv.FormatFloat(t.EntryPrice, 'f', 6, 64)},
			{"Exit", strconv.FormatFloat(t.ExitPrice, 'f', 6, 64)},
			{"Return", strconv.FormatFloat(t.Return*100, 'f', 2, 64) + "%"},
		},
	}
}
