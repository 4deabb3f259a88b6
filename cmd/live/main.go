// cmd/live runs the crossover strategy on one Binance kline stream: it warms
// up on REST history, then processes closed bars as they arrive and fans
// session events out to Redis, alerts, metrics and the SQLite bar store.
//
// Usage:
//
//	SYMBOL=BTCUSDT INTERVAL=1h go run ./cmd/live
//	go run ./cmd/live --replay --from=2026-01-01 --speed=100
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trendcross/config"
	"trendcross/internal/live"
	"trendcross/internal/logger"
	"trendcross/internal/marketdata/binance"
	"trendcross/internal/marketdata/replay"
	"trendcross/internal/metrics"
	"trendcross/internal/model"
	"trendcross/internal/notification"
	redisstore "trendcross/internal/store/redis"
	sqlitestore "trendcross/internal/store/sqlite"
)

const summaryInterval = 30 * time.Second

func main() {
	replayMode := flag.Bool("replay", false, "Replay bars from SQLite instead of the Binance stream")
	fromStr := flag.String("from", "", "Replay start date (YYYY-MM-DD); empty replays everything")
	speed := flag.Float64("speed", 0, "Replay speed multiplier (0=max, 1=realtime)")
	flag.Parse()

	cfg := config.Load()
	logger.Init("live", logger.ParseLevel(cfg.LogLevel))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	sc, err := config.LoadStrategy(cfg.StrategyFile)
	if err != nil {
		log.Fatalf("[live] strategy: %v", err)
	}
	step, ok := binance.IntervalDuration(cfg.Interval)
	if !ok {
		log.Fatalf("[live] unsupported interval %q", cfg.Interval)
	}
	series := model.Series{Symbol: cfg.Symbol, Interval: cfg.Interval}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.Require(!*replayMode, cfg.RedisAddr != "", true)
	health.SetSeries([]string{series.Key()})
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	// ---- SQLite bar store ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Fatalf("[live] create data dir: %v", err)
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[live] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
	health.SetSQLiteOK(true)

	sinks := []model.EventSink{
		metrics.NewEventRecorder(prom),
		model.EventSinkFunc(func(_ context.Context, ev model.Event) error {
			if ev.Type == model.EventBar {
				health.SetFeedConnected(true)
				health.SetLastBarTime(ev.TS)
			}
			return nil
		}),
	}

	// ---- Redis (optional, behind a circuit breaker) ----
	redisWriter, err := redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		slog.Warn("redis unavailable, continuing without pub/sub", "addr", cfg.RedisAddr, "error", err)
		health.SetRedisConnected(false)
	} else {
		defer redisWriter.Close()
		health.SetRedisConnected(true)
		sinks = append(sinks, prom.CountErrors("redis", redisstore.NewResilientWriter(ctx, redisWriter, prom.RedisHooks())))
	}
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Alerts ----
	alerter := notification.NewSignalAlerter(notification.FromConfig(cfg), cfg.AlertMaxAge)
	alerter.Step = func(interval string) time.Duration {
		d, _ := binance.IntervalDuration(interval)
		return d
	}
	alerter.OnFailure = func(err error) {
		prom.NotifyFailures.Inc()
		slog.Warn("alert delivery failed", "error", err)
	}
	sinks = append(sinks, prom.CountErrors("alerts", alerter))

	// ---- Bar source ----
	opts := live.Options{
		Series:     series,
		Config:     sc.Backtest(step),
		WarmupBars: cfg.WarmupBars,
		Sinks:      sinks,
		OnDrop: func(idx int) {
			prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(idx)).Inc()
		},
	}
	if *replayMode {
		reader, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[live] sqlite reader: %v", err)
		}
		defer reader.Close()
		var from time.Time
		if *fromStr != "" {
			if from, err = time.Parse(time.DateOnly, *fromStr); err != nil {
				log.Fatalf("[live] bad --from: %v", err)
			}
		}
		rp := replay.New(reader)
		opts.Stream = live.BarStreamFunc(func(ctx context.Context, out chan<- model.Bar) error {
			n, err := rp.Run(ctx, series, from, *speed, out)
			slog.Info("replay finished", "series", series.Key(), "bars", n)
			return err
		})
	} else {
		stream := binance.NewStream(cfg.BinanceWSURL, series)
		stream.OnReconnect = func() {
			prom.FeedReconnects.Inc()
			health.SetFeedConnected(false)
		}
		history := binance.NewClient(cfg.BinanceRESTURL)
		stream.History = history
		opts.Stream = stream
		opts.History = history
		opts.Recorder = sqlWriter
	}

	runner, err := live.NewRunner(opts)
	if err != nil {
		log.Fatalf("[live] %v", err)
	}
	if n, err := runner.Warmup(ctx); err != nil {
		slog.Warn("warmup failed, starting cold", "series", series.Key(), "error", err)
	} else {
		slog.Info("warmed up", "series", series.Key(), "bars", n)
	}

	if redisWriter != nil {
		go publishSummaries(ctx, redisWriter, runner, series)
	}

	if err := runner.Run(ctx); err != nil {
		slog.Error("live session failed", "series", series.Key(), "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if redisWriter != nil {
		if err := redisWriter.SaveSummary(shutdownCtx, series, runner.Session().Summary()); err != nil {
			slog.Warn("final summary not saved", "error", err)
		}
	}
	metricsSrv.Stop(shutdownCtx)
	slog.Info("shutdown complete")
}

// publishSummaries stores the running summary every summaryInterval.
func publishSummaries(ctx context.Context, w *redisstore.Writer, r *live.Runner, series model.Series) {
	ticker := time.NewTicker(summaryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.SaveSummary(ctx, series, r.Session().Summary()); err != nil {
				slog.Debug("summary not saved", "error", err)
			}
		}
	}
}
