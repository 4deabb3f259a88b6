package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"trendcross/internal/model"
)

type memReader struct {
	bars []model.Bar
	from time.Time
}

func (m *memReader) ReadBars(_ context.Context, _ model.Series, from, _ time.Time) ([]model.Bar, error) {
	m.from = from
	var out []model.Bar
	for _, b := range m.bars {
		if !b.TS.Before(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memReader) Close() error { return nil }

func bars(n int) []model.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Bar, n)
	for i := range out {
		out[i] = model.Bar{TS: base.Add(time.Duration(i) * time.Minute), Open: 1, High: 1, Low: 1, Close: float64(i)}
	}
	return out
}

func TestReplayer_EmitsInOrder(t *testing.T) {
	src := &memReader{bars: bars(20)}
	r := New(src)
	out := make(chan model.Bar, 20)

	from := src.bars[5].TS
	n, err := r.Run(context.Background(), model.Series{Symbol: "BTCUSDT", Interval: "1m"}, from, 0, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 15 || len(out) != 15 {
		t.Fatalf("emitted %d (chan %d), want 15", n, len(out))
	}
	if first := <-out; first.Close != 5 {
		t.Errorf("first bar close = %v, want 5", first.Close)
	}
}

func TestReplayer_SpeedAndCancel(t *testing.T) {
	r := New(&memReader{bars: bars(100)})
	r.MaxGap = 20 * time.Millisecond
	out := make(chan model.Bar, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n, err := r.Run(ctx, model.Series{}, time.Time{}, 1, out)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if n == 0 || n >= 100 {
		t.Errorf("expected a partial replay, got %d bars", n)
	}
}
