package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trendcross/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

type fakeSink struct {
	mu   sync.Mutex
	fail bool
	got  []model.Event
}

func (f *fakeSink) HandleEvent(_ context.Context, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("redis down")
	}
	f.got = append(f.got, ev)
	return nil
}

func (f *fakeSink) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func ev(i int) model.Event {
	return model.Event{
		Type:   model.EventBar,
		Series: model.Series{Symbol: "BTCUSDT", Interval: "1h"},
		TS:     time.Unix(int64(i)*3600, 0).UTC(),
	}
}

func TestBufferedWriter_PassThrough(t *testing.T) {
	sink := &fakeSink{}
	cb, _ := newBreaker(3)
	bw := NewBufferedWriter(context.Background(), sink, cb, 10)

	for i := 0; i < 5; i++ {
		if err := bw.HandleEvent(context.Background(), ev(i)); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	if sink.count() != 5 || bw.PendingCount() != 0 {
		t.Errorf("sink=%d pending=%d, want 5/0", sink.count(), bw.PendingCount())
	}
}

func TestBufferedWriter_BuffersWhileOpenAndFlushesInOrder(t *testing.T) {
	sink := &fakeSink{}
	cb, _ := newBreaker(1)
	bw := NewBufferedWriter(context.Background(), sink, cb, 10)

	sink.setFail(true)
	if err := bw.HandleEvent(context.Background(), ev(0)); err == nil {
		t.Fatal("expected sink error on first failure")
	}
	for i := 1; i < 4; i++ {
		if err := bw.HandleEvent(context.Background(), ev(i)); err != nil {
			t.Fatalf("open circuit should buffer silently, got %v", err)
		}
	}
	if bw.PendingCount() != 4 {
		t.Fatalf("pending = %d, want 4", bw.PendingCount())
	}

	sink.setFail(false)
	if n := bw.Flush(); n != 4 {
		t.Fatalf("flushed %d, want 4", n)
	}
	for i, e := range sink.got {
		if !e.TS.Equal(ev(i).TS) {
			t.Errorf("event %d out of order: %v", i, e.TS)
		}
	}
}

func TestBufferedWriter_FailedFlushKeepsEvents(t *testing.T) {
	sink := &fakeSink{}
	cb, _ := newBreaker(1)
	bw := NewBufferedWriter(context.Background(), sink, cb, 10)

	sink.setFail(true)
	bw.HandleEvent(context.Background(), ev(0))
	bw.HandleEvent(context.Background(), ev(1))

	if n := bw.Flush(); n != 0 {
		t.Errorf("flushed %d while sink down", n)
	}
	if bw.PendingCount() != 2 {
		t.Errorf("pending = %d, want 2", bw.PendingCount())
	}
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb, _ := newBreaker(1)
	bw := NewBufferedWriter(context.Background(), sink, cb, 3)

	for i := 0; i < 5; i++ {
		bw.HandleEvent(context.Background(), ev(i))
	}
	if bw.PendingCount() != 3 || bw.Dropped() != 2 {
		t.Errorf("pending=%d dropped=%d, want 3/2", bw.PendingCount(), bw.Dropped())
	}

	sink.setFail(false)
	bw.Flush()
	if !sink.got[0].TS.Equal(ev(2).TS) {
		t.Errorf("oldest kept = %v, want %v", sink.got[0].TS, ev(2).TS)
	}
}

func TestBufferedWriter_FlushOnClose(t *testing.T) {
	sink := &fakeSink{}
	cb, clk := newBreaker(1)
	flushed := make(chan int, 2)
	bw := NewBufferedWriter(context.Background(), sink, cb, 10)
	bw.OnFlush = func(n int) { flushed <- n }

	sink.setFail(true)
	bw.HandleEvent(context.Background(), ev(0))
	sink.setFail(false)
	clk.advance(11 * time.Second)

	// The buffered event is the probe; ev(1) follows it once the circuit closes.
	if err := bw.HandleEvent(context.Background(), ev(1)); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	select {
	case n := <-flushed:
		if n != 2 {
			t.Errorf("flushed %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("buffer not drained on close")
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("state = %v, want closed", cb.CurrentState())
	}
	assertOrder(t, sink, ev(0), ev(1))
}

func TestBufferedWriter_NewEventsWaitBehindBuffer(t *testing.T) {
	series := model.Series{Symbol: "BTCUSDT", Interval: "1h"}
	entry := model.Event{Type: model.EventEntry, Series: series, TS: time.Unix(3600, 0).UTC()}
	exit := model.Event{Type: model.EventExit, Series: series, TS: time.Unix(7200, 0).UTC()}
	bar := model.Event{Type: model.EventBar, Series: series, TS: time.Unix(10800, 0).UTC()}

	sink := &fakeSink{}
	cb, _ := newBreaker(5)
	bw := NewBufferedWriter(context.Background(), sink, cb, 10)

	sink.setFail(true)
	if err := bw.HandleEvent(context.Background(), entry); err == nil {
		t.Fatal("expected sink error for entry")
	}
	bw.HandleEvent(context.Background(), exit)
	if cb.CurrentState() != StateClosed || bw.PendingCount() != 2 {
		t.Fatalf("state=%v pending=%d, want closed/2", cb.CurrentState(), bw.PendingCount())
	}

	sink.setFail(false)
	if err := bw.HandleEvent(context.Background(), bar); err != nil {
		t.Fatalf("market data after recovery: %v", err)
	}
	if bw.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", bw.PendingCount())
	}
	assertOrder(t, sink, entry, exit, bar)
}

func TestBufferedWriter_ConcurrentFlushKeepsOrder(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb, _ := newBreaker(100)
	bw := NewBufferedWriter(context.Background(), sink, cb, 100)
	for i := 0; i < 20; i++ {
		bw.HandleEvent(context.Background(), ev(i))
	}
	sink.setFail(false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bw.Flush()
	}()
	for i := 20; i < 40; i++ {
		bw.HandleEvent(context.Background(), ev(i))
	}
	wg.Wait()

	want := make([]model.Event, 40)
	for i := range want {
		want[i] = ev(i)
	}
	assertOrder(t, sink, want...)
}

func TestNewResilientWriter_Hooks(t *testing.T) {
	sink := &fakeSink{fail: true}
	var trips, buffered int
	bw := NewResilientWriter(context.Background(), sink, ResilientHooks{
		OnStateChange: func(_, to State) {
			if to == StateOpen {
				trips++
			}
		},
		OnBuffer: func() { buffered++ },
	})

	for i := 0; i < resilientMaxFailures+2; i++ {
		bw.HandleEvent(context.Background(), ev(i))
	}
	if trips != 1 {
		t.Errorf("trips = %d, want 1", trips)
	}
	if buffered != resilientMaxFailures+2 || bw.PendingCount() != resilientMaxFailures+2 {
		t.Errorf("buffered=%d pending=%d, want %d", buffered, bw.PendingCount(), resilientMaxFailures+2)
	}

	sink.setFail(false)
	bw.Flush()
	want := make([]model.Event, resilientMaxFailures+2)
	for i := range want {
		want[i] = ev(i)
	}
	assertOrder(t, sink, want...)
}

func assertOrder(t *testing.T, sink *fakeSink, want ...model.Event) {
	t.Helper()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != len(want) {
		t.Fatalf("sink got %d events, want %d", len(sink.got), len(want))
	}
	for i, e := range sink.got {
		if e.Type != want[i].Type || !e.TS.Equal(want[i].TS) {
			t.Errorf("event %d = %s@%v, want %s@%v", i, e.Type, e.TS, want[i].Type, want[i].TS)
		}
	}
}

func TestKeys(t *testing.T) {
	s := model.Series{Symbol: "ETHUSDT", Interval: "15m"}
	tests := []struct{ got, want string }{
		{EventsStream(s), "events:ETHUSDT:15m"},
		{EventsChannel(s), "pub:events:ETHUSDT:15m"},
		{SummaryKey(s), "summary:ETHUSDT:15m"},
		{PositionKey(s), "position:ETHUSDT:15m"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestDecodeMessage(t *testing.T) {
	e := model.Event{
		Type:   model.EventSignal,
		Series: model.Series{Symbol: "BTCUSDT", Interval: "1h"},
		TS:     time.Unix(3600, 0).UTC(),
		Signal: model.SignalBearish,
		Price:  42000,
	}
	got, err := decodeMessage(goredisMessage(string(e.JSON())))
	if err != nil {
		t.Fatal(err)
	}
	if got.Signal != model.SignalBearish || got.Price != 42000 || got.Type != model.EventSignal {
		t.Errorf("decoded %+v", got)
	}
	if _, err := decodeMessage(goredisMessage("")); err == nil {
		t.Error("expected error for empty payload")
	}
}

func goredisMessage(data string) goredis.XMessage {
	return goredis.XMessage{ID: "1-0", Values: map[string]interface{}{"data": data}}
}
