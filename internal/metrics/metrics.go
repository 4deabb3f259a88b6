package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the live engine and gateway.
type Metrics struct {
	BarsTotal     *prometheus.CounterVec // labels: series
	SignalsTotal  *prometheus.CounterVec // labels: series, side
	TradesTotal   *prometheus.CounterVec // labels: series, reason
	TradeReturn   prometheus.Histogram
	PositionState *prometheus.GaugeVec // labels: series; 0=flat, 1=long, -1=short
	BarLag        prometheus.Gauge

	FeedReconnects prometheus.Counter
	NotifyFailures prometheus.Counter
	SinkErrors     *prometheus.CounterVec // labels: sink

	BacktestDur  prometheus.Histogram
	BacktestRuns *prometheus.CounterVec // labels: outcome=ok|error

	// Backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedEvents      prometheus.Counter

	SQLiteCommitDur prometheus.Histogram
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendcross_bars_total",
			Help: "Closed bars processed by live sessions",
		}, []string{"series"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendcross_signals_total",
			Help: "Crossover signals detected",
		}, []string{"series", "side"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendcross_trades_total",
			Help: "Positions closed, by exit reason",
		}, []string{"series", "reason"}),
		TradeReturn: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendcross_trade_return_pct",
			Help:    "Closed trade return in percent",
			Buckets: []float64{-5, -2, -1, -0.5, 0, 0.5, 1, 2, 5},
		}),
		PositionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trendcross_position_state",
			Help: "Open position (0=flat, 1=long, -1=short)",
		}, []string{"series"}),
		BarLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendcross_bar_lag_seconds",
			Help: "Delay between bar open time and processing",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendcross_feed_reconnects_total",
			Help: "Kline WebSocket reconnection attempts",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendcross_notify_failures_total",
			Help: "Alerts rejected by a notification backend",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendcross_sink_errors_total",
			Help: "Event sink failures",
		}, []string{"sink"}),
		BacktestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendcross_backtest_duration_seconds",
			Help:    "Wall time of one backtest run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		BacktestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendcross_backtest_runs_total",
			Help: "Backtest runs by outcome",
		}, []string{"outcome"}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendcross_fanout_drops_total",
			Help: "Bars dropped by the FanOut bus per subscriber",
		}, []string{"subscriber"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendcross_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendcross_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendcross_redis_buffered_events_total",
			Help: "Events buffered locally while the Redis circuit was open",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendcross_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.SignalsTotal,
		m.TradesTotal,
		m.TradeReturn,
		m.PositionState,
		m.BarLag,
		m.FeedReconnects,
		m.NotifyFailures,
		m.SinkErrors,
		m.BacktestDur,
		m.BacktestRuns,
		m.FanoutDropsTotal,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedEvents,
		m.SQLiteCommitDur,
	)

	return m
}
