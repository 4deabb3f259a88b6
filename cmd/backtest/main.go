// cmd/backtest runs the trend-filtered crossover strategy over a fixed bar
// sequence and prints the trade log and performance summary.
//
// Usage:
//
//	go run ./cmd/backtest --source=binance --symbol=BTCUSDT --interval=1h --days=30
//	go run ./cmd/backtest --source=csv --csv=data/btc_1h.csv --interval=1h
//	go run ./cmd/backtest --source=sqlite --db=data/bars.db --days=90 --save
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trendcross/config"
	"trendcross/internal/backtest"
	"trendcross/internal/marketdata/binance"
	"trendcross/internal/marketdata/csvfeed"
	"trendcross/internal/model"
	sqlitestore "trendcross/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	source := flag.String("source", "binance", "Bar source: binance, csv or sqlite")
	csvPath := flag.String("csv", "", "CSV file for --source=csv")
	symbol := flag.String("symbol", "BTCUSDT", "Trading pair")
	interval := flag.String("interval", "1h", "Kline interval")
	days := flag.Int("days", 30, "Days of history for binance/sqlite sources")
	dbPath := flag.String("db", "data/bars.db", "Path to SQLite database")
	strategyFile := flag.String("strategy", "", "Strategy YAML file (defaults + env when empty)")
	restURL := flag.String("rest", "https://api.binance.com", "Binance REST base URL")
	asJSON := flag.Bool("json", false, "Print the full result as JSON")
	save := flag.Bool("save", false, "Store the run in SQLite")
	flag.Parse()

	if err := run(*source, *csvPath, *symbol, *interval, *days, *dbPath, *strategyFile, *restURL, *asJSON, *save); err != nil {
		log.Printf("[backtest] %v", err)
		os.Exit(1)
	}
}

func run(source, csvPath, symbol, interval string, days int, dbPath, strategyFile, restURL string, asJSON, save bool) error {
	step, ok := binance.IntervalDuration(interval)
	if !ok {
		return fmt.Errorf("unsupported interval %q (have %s)", interval, strings.Join(binance.IntervalNames(), ", "))
	}
	series := model.Series{Symbol: strings.ToUpper(symbol), Interval: interval}

	sc, err := config.LoadStrategy(strategyFile)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bars, err := loadBars(ctx, source, csvPath, series, days, dbPath, restURL)
	if err != nil {
		return err
	}
	log.Printf("[backtest] loaded %d bars for %s from %s", len(bars), series.Key(), source)

	start := time.Now()
	res, err := backtest.Run(ctx, series, bars, sc.Backtest(step))
	if err != nil {
		return err
	}
	log.Printf("[backtest] run %s finished in %v", res.RunID, time.Since(start))

	if save {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath})
		if err != nil {
			return err
		}
		defer w.Close()
		if err := w.SaveRun(ctx, res); err != nil {
			return err
		}
		log.Printf("[backtest] saved run %s to %s", res.RunID, dbPath)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(res)
	return nil
}

func loadBars(ctx context.Context, source, csvPath string, series model.Series, days int, dbPath, restURL string) ([]model.Bar, error) {
	switch source {
	case "csv":
		if csvPath == "" {
			return nil, fmt.Errorf("--csv is required with --source=csv")
		}
		return csvfeed.LoadFile(csvPath)
	case "sqlite":
		r, err := sqlitestore.NewReader(dbPath)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		from := time.Now().UTC().AddDate(0, 0, -days)
		return r.ReadBars(ctx, series, from, time.Time{})
	case "binance":
		return binance.NewClient(restURL).HistoricalDays(ctx, series, days)
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

func printResult(res *backtest.Result) {
	fmt.Printf("\n%-6s %-20s %12s %-20s %12s %8s  %s\n", "SIDE", "ENTRY", "PRICE", "EXIT", "PRICE", "RET%", "REASON")
	for _, t := range res.Trades {
		fmt.Printf("%-6s %-20s %12.4f %-20s %12.4f %8.2f  %s\n",
			t.Side,
			t.EntryTS.UTC().Format("2006-01-02 15:04"), t.EntryPrice,
			t.ExitTS.UTC().Format("2006-01-02 15:04"), t.ExitPrice,
			t.Return*100, t.Reason)
	}

	s := res.Summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Series:          %-18s ║\n", res.Series.Key())
	fmt.Printf("║  Bars:            %-18d ║\n", res.Bars)
	fmt.Printf("║  Trades:          %-18d ║\n", s.TotalTrades)
	fmt.Printf("║  Win rate:        %-17.2f%% ║\n", s.WinRate)
	fmt.Printf("║  Total return:    %-17.2f%% ║\n", s.TotalReturn)
	fmt.Printf("║  Average return:  %-17.2f%% ║\n", s.AverageReturn)
	fmt.Printf("║  Best / worst:    %7.2f%% / %6.2f%% ║\n", s.BestTrade, s.WorstTrade)
	fmt.Printf("║  Max drawdown:    %-17.2f%% ║\n", s.MaxDrawdown)
	fmt.Printf("║  Sharpe (ann.):   %-18.3f ║\n", s.SharpeLike)
	fmt.Printf("║  TP / SL hits:    %4d / %-11d ║\n", s.TakeProfitHits, s.StopLossHits)
	fmt.Println("╚══════════════════════════════════════╝")
}
