package live

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"trendcross/internal/backtest"
	"trendcross/internal/indicator"
	"trendcross/internal/model"
	"trendcross/internal/portfolio"
)

var series = model.Series{Symbol: "BTCUSDT", Interval: "1h"}

func walk(seed int64, n int) []model.Bar {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	price := 30000.0
	for i := range bars {
		open := price
		price *= 1 + (rng.Float64()-0.5)*0.03
		hi := max(open, price) * (1 + rng.Float64()*0.01)
		lo := min(open, price) * (1 - rng.Float64()*0.01)
		bars[i] = model.Bar{TS: base.Add(time.Duration(i) * time.Hour), Open: open, High: hi, Low: lo, Close: price, Volume: 1}
	}
	return bars
}

func testConfig() backtest.Config {
	return backtest.Config{
		Indicator:  indicator.Config{FastPeriod: 3, SlowPeriod: 8, SignalPeriod: 3, TrendPeriod: 20},
		Risk:       portfolio.DefaultRiskRule(),
		AllowShort: true,
		Step:       time.Hour,
	}
}

func feed(bars []model.Bar) BarStream {
	return BarStreamFunc(func(ctx context.Context, out chan<- model.Bar) error {
		for _, b := range bars {
			select {
			case out <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
}

type history []model.Bar

func (h history) Klines(context.Context, model.Series, time.Time, time.Time) ([]model.Bar, error) {
	return h, nil
}

type recorder struct {
	mu   sync.Mutex
	bars []model.Bar
}

func (r *recorder) RunBars(_ context.Context, _ model.Series, in <-chan model.Bar) {
	for b := range in {
		r.mu.Lock()
		r.bars = append(r.bars, b)
		r.mu.Unlock()
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) HandleEvent(_ context.Context, ev model.Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func TestRunner_MatchesBacktest(t *testing.T) {
	bars := walk(7, 200)
	want, err := backtest.Run(context.Background(), series, bars, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	events := &eventLog{}
	r, err := NewRunner(Options{
		Series:   series,
		Config:   testConfig(),
		Stream:   feed(bars),
		Recorder: rec,
		Sinks:    []model.EventSink{events},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := r.Session().Trades(); !reflect.DeepEqual(got, want.Trades) {
		t.Fatalf("live trades (%d) differ from backtest (%d)", len(got), len(want.Trades))
	}
	if len(rec.bars) != len(bars) {
		t.Errorf("recorded %d bars, want %d", len(rec.bars), len(bars))
	}
	exits := 0
	for _, ev := range events.events {
		if ev.Type == model.EventExit {
			exits++
		}
	}
	if exits != len(want.Trades) {
		t.Errorf("exit events = %d, want %d", exits, len(want.Trades))
	}
}

func TestRunner_WarmupNeverTrades(t *testing.T) {
	bars := walk(11, 400)
	r, err := NewRunner(Options{
		Series:     series,
		Config:     testConfig(),
		WarmupBars: 200,
		History:    history(bars[:200]),
		Stream:     feed(bars[200:]),
	})
	if err != nil {
		t.Fatal(err)
	}
	n, err := r.Warmup(context.Background())
	if err != nil || n != 200 {
		t.Fatalf("Warmup = %d, %v", n, err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.Session().Count() != 400 {
		t.Errorf("count = %d, want 400", r.Session().Count())
	}
	for _, tr := range r.Session().Trades() {
		if tr.EntryTS.Before(bars[200].TS) {
			t.Errorf("trade entered during warm-up at %v", tr.EntryTS)
		}
	}
}

func TestRunner_StreamError(t *testing.T) {
	boom := errors.New("feed down")
	r, err := NewRunner(Options{
		Series: series,
		Config: testConfig(),
		Stream: BarStreamFunc(func(context.Context, chan<- model.Bar) error { return boom }),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestNewRunner_Invalid(t *testing.T) {
	if _, err := NewRunner(Options{Series: series, Config: testConfig()}); err == nil {
		t.Error("expected error without stream")
	}
	cfg := testConfig()
	cfg.Risk.StopLossPct = -1
	_, err := NewRunner(Options{Series: series, Config: cfg, Stream: feed(nil)})
	if !errors.Is(err, model.ErrInvalidConfiguration) {
		t.Errorf("err = %v, want ErrInvalidConfiguration", err)
	}
}

func blocking() BarStream {
	return BarStreamFunc(func(ctx context.Context, _ chan<- model.Bar) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(context.Background(), func(s model.Series) (*Runner, error) {
		return NewRunner(Options{Series: s, Config: testConfig(), Stream: blocking()})
	})
	eth := model.Series{Symbol: "ETHUSDT", Interval: "1h"}

	if _, err := m.Start(series); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(eth); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(series); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second start: %v", err)
	}

	running := m.Running()
	if len(running) != 2 || running[0].Series != series || running[1].Series != eth {
		t.Fatalf("running = %+v", running)
	}

	if err := m.Stop(series); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(series); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second stop: %v", err)
	}

	m.StopAll()
	if n := len(m.Running()); n != 0 {
		t.Errorf("%d streams still running", n)
	}
}

func TestManager_FactoryError(t *testing.T) {
	m := NewManager(context.Background(), func(model.Series) (*Runner, error) {
		return nil, model.ErrInvalidConfiguration
	})
	if _, err := m.Start(series); !errors.Is(err, model.ErrInvalidConfiguration) {
		t.Errorf("err = %v", err)
	}
	if len(m.Running()) != 0 {
		t.Error("failed start must not register")
	}
}
