package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trendcross/internal/model"
	redisstore "trendcross/internal/store/redis"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEventRecorder(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	r := NewEventRecorder(m)
	s := model.Series{Symbol: "BTCUSDT", Interval: "1h"}
	ctx := context.Background()

	r.HandleEvent(ctx, model.Event{Type: model.EventBar, Series: s, TS: time.Now()})
	r.HandleEvent(ctx, model.Event{Type: model.EventBar, Series: s, TS: time.Now()})
	r.HandleEvent(ctx, model.Event{Type: model.EventSignal, Series: s, Signal: model.SignalBearish})
	r.HandleEvent(ctx, model.Event{Type: model.EventEntry, Series: s, Position: &model.Position{Side: model.SideShort}})

	key := s.Key()
	if got := testutil.ToFloat64(m.BarsTotal.WithLabelValues(key)); got != 2 {
		t.Errorf("bars = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues(key, "bearish")); got != 1 {
		t.Errorf("bearish signals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PositionState.WithLabelValues(key)); got != -1 {
		t.Errorf("position = %v, want -1", got)
	}

	r.HandleEvent(ctx, model.Event{Type: model.EventExit, Series: s, Trade: &model.Trade{Reason: model.ExitTakeProfit, Return: 0.02}})
	if got := testutil.ToFloat64(m.PositionState.WithLabelValues(key)); got != 0 {
		t.Errorf("position after exit = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.TradesTotal.WithLabelValues(key, "TakeProfit")); got != 1 {
		t.Errorf("tp trades = %v, want 1", got)
	}
}

func TestObserveBacktest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveBacktest(time.Millisecond, nil)
	m.ObserveBacktest(time.Millisecond, errors.New("bad"))
	if got := testutil.ToFloat64(m.BacktestRuns.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok runs = %v", got)
	}
	if got := testutil.ToFloat64(m.BacktestRuns.WithLabelValues("error")); got != 1 {
		t.Errorf("error runs = %v", got)
	}
}

func TestCountErrors(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	fail := true
	sink := m.CountErrors("redis", model.EventSinkFunc(func(context.Context, model.Event) error {
		if fail {
			return errors.New("down")
		}
		return nil
	}))

	if err := sink.HandleEvent(context.Background(), model.Event{}); err == nil {
		t.Error("error should pass through")
	}
	fail = false
	_ = sink.HandleEvent(context.Background(), model.Event{})
	if got := testutil.ToFloat64(m.SinkErrors.WithLabelValues("redis")); got != 1 {
		t.Errorf("sink errors = %v, want 1", got)
	}
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name                string
		feed, redis, sqlite bool
		wantCode            int
		wantStatus          string
	}{
		{"all up", true, true, true, http.StatusOK, "healthy"},
		{"redis down", true, false, true, http.StatusServiceUnavailable, "degraded"},
		{"two down", false, false, true, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthStatus()
			h.Require(true, true, true)
			h.SetFeedConnected(tt.feed)
			h.SetRedisConnected(tt.redis)
			h.SetSQLiteOK(tt.sqlite)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body struct{ Status string }
			json.NewDecoder(rec.Body).Decode(&body)
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
		})
	}
}

func TestHealthz_UnrequiredDepsIgnored(t *testing.T) {
	h := NewHealthStatus()
	h.Require(false, false, true)
	h.SetSQLiteOK(true)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.FeedReconnects.Inc()
	srv := NewServer(":0", NewHealthStatus(), reg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "trendcross_feed_reconnects_total 1") {
		t.Errorf("metrics output missing reconnect counter:\n%s", rec.Body.String())
	}
}

func TestRedisHooks(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := m.RedisHooks()

	h.OnStateChange(redisstore.StateClosed, redisstore.StateOpen)
	h.OnBuffer()
	h.OnBuffer()
	if got := testutil.ToFloat64(m.RedisCircuitBreakerState); got != 1 {
		t.Errorf("breaker state = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RedisCircuitBreakerTrips); got != 1 {
		t.Errorf("trips = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RedisBufferedEvents); got != 2 {
		t.Errorf("buffered = %v, want 2", got)
	}

	h.OnStateChange(redisstore.StateOpen, redisstore.StateHalfOpen)
	if got := testutil.ToFloat64(m.RedisCircuitBreakerTrips); got != 1 {
		t.Errorf("half-open should not count as a trip, trips = %v", got)
	}
}
