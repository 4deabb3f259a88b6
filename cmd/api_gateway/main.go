// cmd/api_gateway serves the dashboard: REST endpoints for market data,
// backtests and stored runs, a WebSocket feed of live session events, and
// operator control of in-process live streams.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"trendcross/config"
	"trendcross/internal/gateway"
	"trendcross/internal/live"
	"trendcross/internal/logger"
	"trendcross/internal/marketdata/binance"
	"trendcross/internal/metrics"
	"trendcross/internal/model"
	"trendcross/internal/notification"
	redisstore "trendcross/internal/store/redis"
	sqlitestore "trendcross/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	logger.Init("api_gateway", logger.ParseLevel(cfg.LogLevel))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[api_gateway] starting...")
	started := time.Now()

	sc, err := config.LoadStrategy(cfg.StrategyFile)
	if err != nil {
		log.Fatalf("[api_gateway] strategy: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.Require(false, cfg.RedisAddr != "", true)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	hub := gateway.NewHub()
	hub.Step = intervalStep

	// ---- SQLite: bars and backtest runs ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Fatalf("[api_gateway] create data dir: %v", err)
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[api_gateway] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
	sqlReader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[api_gateway] sqlite reader failed: %v", err)
	}
	defer sqlReader.Close()
	health.SetSQLiteOK(true)

	// ---- Redis: optional event history, pub/sub and strategy persistence ----
	redisCfg := redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	var (
		redisReader *redisstore.Reader
		redisSink   model.EventSink
	)
	if r, err := redisstore.NewReader(redisCfg); err != nil {
		slog.Warn("redis unavailable, serving in-memory history only", "addr", cfg.RedisAddr, "error", err)
		health.SetRedisConnected(false)
	} else {
		redisReader = r
		defer redisReader.Close()
		hub.History = redisReader
		health.SetRedisConnected(true)
		if w, err := redisstore.New(redisCfg); err == nil {
			defer w.Close()
			redisSink = prom.CountErrors("redis", redisstore.NewResilientWriter(ctx, w, prom.RedisHooks()))
		}
	}

	var strategyRDB *goredis.Client
	if redisReader != nil {
		strategyRDB = redisReader.Client()
	}
	strategies := gateway.NewStrategyStore(hub, strategyRDB, sc)
	if redisReader != nil {
		if err := strategies.Load(ctx); err != nil {
			slog.Warn("stored strategy not loaded", "error", err)
		}
		health.StartLivenessChecker(ctx, redisReader.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Alerts, shared by all in-process streams ----
	alerter := notification.NewSignalAlerter(notification.FromConfig(cfg), cfg.AlertMaxAge)
	alerter.Step = intervalStep
	alerter.OnFailure = func(err error) {
		prom.NotifyFailures.Inc()
		slog.Warn("alert delivery failed", "error", err)
	}

	// ---- Live stream manager ----
	history := binance.NewClient(cfg.BinanceRESTURL)
	manager := live.NewManager(ctx, func(series model.Series) (*live.Runner, error) {
		step, ok := binance.IntervalDuration(series.Interval)
		if !ok {
			return nil, errors.New("unsupported interval " + series.Interval)
		}
		stream := binance.NewStream(cfg.BinanceWSURL, series)
		stream.OnForming = func(b model.Bar) { hub.Forming(series, b) }
		stream.OnReconnect = prom.FeedReconnects.Inc
		stream.History = history

		sinks := []model.EventSink{hub, metrics.NewEventRecorder(prom), prom.CountErrors("alerts", alerter)}
		if redisSink != nil {
			sinks = append(sinks, redisSink)
		}
		return live.NewRunner(live.Options{
			Series:     series,
			Config:     strategies.Get().Backtest(step),
			WarmupBars: cfg.WarmupBars,
			Stream:     stream,
			History:    history,
			Recorder:   sqlWriter,
			Sinks:      sinks,
			OnDrop: func(idx int) {
				prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(idx)).Inc()
			},
		})
	})

	// Events of a separately running cmd/live arrive over Redis pub/sub.
	if redisReader != nil {
		router := gateway.NewEventRouter(hub, redisReader, model.Series{Symbol: cfg.Symbol, Interval: cfg.Interval})
		router.Local = func(s model.Series) bool {
			for _, st := range manager.Running() {
				if st.Series == s {
					return true
				}
			}
			return false
		}
		go router.Run(ctx)
	}

	go hub.StartMetricsBroadcast(ctx, started, func() int { return len(manager.Running()) })

	api := &gateway.API{
		Hub:      hub,
		Strategy: strategies,
		History:  history,
		Bars:     sqlReader,
		Runs:     sqlReader,
		Saver:    sqlWriter,
		Streams:  manager,
		Auth:     gateway.NewTOTPGuard(cfg.ControlTOTPSecret),
		Metrics:  prom,
		Started:  started,
	}
	if redisReader != nil {
		api.Ping = func(ctx context.Context) error { return redisReader.Client().Ping(ctx).Err() }
	}
	if api.Auth == nil {
		slog.Warn("CONTROL_TOTP_SECRET not set, stream control endpoints are open")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[api_gateway] listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[api_gateway] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[api_gateway] shutting down...")
	manager.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	log.Println("[api_gateway] stopped")
}

func intervalStep(interval string) time.Duration {
	d, _ := binance.IntervalDuration(interval)
	return d
}

