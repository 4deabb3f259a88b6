package metrics

import (
	"context"
	"time"

	"trendcross/internal/model"
	redisstore "trendcross/internal/store/redis"
)

// EventRecorder updates metrics from live session events.
// It implements model.EventSink and never fails.
type EventRecorder struct {
	m   *Metrics
	now func() time.Time
}

// NewEventRecorder creates a recorder feeding m.
func NewEventRecorder(m *Metrics) *EventRecorder {
	return &EventRecorder{m: m, now: time.Now}
}

func (r *EventRecorder) HandleEvent(_ context.Context, ev model.Event) error {
	key := ev.Series.Key()
	switch ev.Type {
	case model.EventBar:
		r.m.BarsTotal.WithLabelValues(key).Inc()
		r.m.BarLag.Set(r.now().Sub(ev.TS).Seconds())
	case model.EventSignal:
		r.m.SignalsTotal.WithLabelValues(key, ev.Signal.String()).Inc()
	case model.EventEntry:
		v := 1.0
		if ev.Position != nil && ev.Position.Side == model.SideShort {
			v = -1
		}
		r.m.PositionState.WithLabelValues(key).Set(v)
	case model.EventExit:
		r.m.PositionState.WithLabelValues(key).Set(0)
		if ev.Trade != nil {
			r.m.TradesTotal.WithLabelValues(key, string(ev.Trade.Reason)).Inc()
			r.m.TradeReturn.Observe(ev.Trade.Return * 100)
		}
	}
	return nil
}

// ObserveBacktest records one backtest run.
func (m *Metrics) ObserveBacktest(d time.Duration, err error) {
	m.BacktestDur.Observe(d.Seconds())
	if err != nil {
		m.BacktestRuns.WithLabelValues("error").Inc()
		return
	}
	m.BacktestRuns.WithLabelValues("ok").Inc()
}

// CountErrors wraps sink so each failure increments SinkErrors{sink=name}.
func (m *Metrics) CountErrors(name string, sink model.EventSink) model.EventSink {
	return model.EventSinkFunc(func(ctx context.Context, ev model.Event) error {
		err := sink.HandleEvent(ctx, ev)
		if err != nil {
			m.SinkErrors.WithLabelValues(name).Inc()
		}
		return err
	})
}

// RedisHooks reports Redis breaker transitions and buffered events.
func (m *Metrics) RedisHooks() redisstore.ResilientHooks {
	return redisstore.ResilientHooks{
		OnStateChange: func(_, to redisstore.State) {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
		},
		OnBuffer: m.RedisBufferedEvents.Inc,
	}
}
