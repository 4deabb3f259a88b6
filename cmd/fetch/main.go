// cmd/fetch downloads closed klines from Binance into SQLite so backtests
// and replays can run offline. Re-runs resume after the newest stored bar.
//
// Usage:
//
//	go run ./cmd/fetch --symbols=BTCUSDT,ETHUSDT --intervals=1h,4h --days=180
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"trendcross/internal/marketdata/binance"
	"trendcross/internal/model"
	sqlitestore "trendcross/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	symbols := flag.String("symbols", "BTCUSDT", "Comma-separated trading pairs")
	intervals := flag.String("intervals", "1h", "Comma-separated kline intervals")
	days := flag.Int("days", 90, "Days of history to keep filled")
	dbPath := flag.String("db", "data/bars.db", "Path to SQLite database")
	restURL := flag.String("rest", "https://api.binance.com", "Binance REST base URL")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		log.Fatalf("[fetch] create data dir: %v", err)
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[fetch] sqlite init failed: %v", err)
	}
	defer w.Close()

	client := binance.NewClient(*restURL)
	failed := 0
	for _, sym := range splitList(*symbols) {
		for _, iv := range splitList(*intervals) {
			series := model.Series{Symbol: strings.ToUpper(sym), Interval: iv}
			n, err := fetchSeries(ctx, client, w, series, *days)
			if err != nil {
				log.Printf("[fetch] %s: %v", series.Key(), err)
				failed++
				continue
			}
			log.Printf("[fetch] %s: stored %d bars", series.Key(), n)
		}
	}
	if failed > 0 {
		w.Close()
		os.Exit(1)
	}
}

// fetchSeries fills series from max(newest stored bar + 1 step, now - days).
func fetchSeries(ctx context.Context, src model.HistoricalSource, w *sqlitestore.Writer, series model.Series, days int) (int, error) {
	step, ok := binance.IntervalDuration(series.Interval)
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", series.Interval)
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	last, err := w.LastBarTime(ctx, series)
	if err != nil {
		return 0, err
	}
	if next := last.Add(step); !last.IsZero() && next.After(start) {
		start = next
	}
	if !start.Before(end) {
		return 0, nil
	}
	bars, err := src.Klines(ctx, series, start, end)
	if err != nil {
		return 0, err
	}
	if err := model.CheckContinuity(bars, step); err != nil {
		log.Printf("[fetch] %s: %v (storing anyway)", series.Key(), err)
	}
	return len(bars), w.SaveBars(ctx, series, bars)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
