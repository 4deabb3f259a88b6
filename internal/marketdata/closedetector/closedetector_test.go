package closedetector

import (
	"testing"
	"time"

	"trendcross/internal/model"
)

var t0 = time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)

func bar(min int, close float64) model.Bar {
	return model.Bar{TS: t0.Add(time.Duration(min) * time.Minute), Open: close, High: close + 1, Low: close - 1, Close: close}
}

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func TestDetector_NormalFlow(t *testing.T) {
	d := New(time.Minute)
	if _, ok := d.Forming(bar(0, 100)); ok {
		t.Error("first preview should not report a gap")
	}
	if _, ok := d.Forming(bar(0, 101)); ok {
		t.Error("same-period preview should not report a gap")
	}
	if !d.Closed(bar(0, 101.5)) {
		t.Fatal("final kline should be emitted")
	}
	if _, ok := d.Pending(); ok {
		t.Error("pending should clear after the final kline")
	}
	if _, ok := d.Forming(bar(1, 102)); ok {
		t.Error("next-period preview after a final kline should not report a gap")
	}
	if d.Gaps != 0 {
		t.Errorf("gaps = %d, want 0", d.Gaps)
	}
}

func TestDetector_PreviewNeverBecomesClose(t *testing.T) {
	d := New(time.Minute)
	d.Forming(bar(0, 100))

	gap, ok := d.Forming(bar(1, 101))
	if !ok {
		t.Fatal("later-period preview should report the missed period")
	}
	if !gap.From.Equal(at(0)) || !gap.To.Equal(at(1)) {
		t.Errorf("gap = %v..%v, want 10:00..10:01", gap.From, gap.To)
	}
	if !d.LastClosed().IsZero() {
		t.Errorf("reporting a gap must not close the period, last closed = %v", d.LastClosed())
	}

	// The real final kline still arrives late and is the close.
	if !d.Closed(bar(0, 105)) {
		t.Fatal("late final kline for an unemitted period should be accepted")
	}
	if d.Closed(bar(0, 105)) {
		t.Error("duplicate final kline should be dropped")
	}
	if p, ok := d.Pending(); !ok || !p.TS.Equal(at(1)) {
		t.Errorf("pending = %+v, %v; want the 10:01 preview", p, ok)
	}
}

func TestDetector_GapAfterReconnect(t *testing.T) {
	d := New(time.Minute)
	d.Closed(bar(0, 100))

	gap, ok := d.Forming(bar(3, 103))
	if !ok {
		t.Fatal("expected a gap after missing two finals")
	}
	if !gap.From.Equal(at(1)) || !gap.To.Equal(at(3)) {
		t.Errorf("gap = %v..%v, want 10:01..10:03", gap.From, gap.To)
	}
	if _, ok := d.Forming(bar(3, 103.5)); ok {
		t.Error("gap should be reported once per preview period")
	}

	// Recovered klines fill the gap in order.
	for _, b := range []model.Bar{bar(1, 101), bar(2, 102)} {
		if !d.Closed(b) {
			t.Errorf("recovered %v should be accepted", b.TS)
		}
	}
	if _, ok := d.Forming(bar(3, 104)); ok {
		t.Error("no gap once the missing periods are closed")
	}
	if d.Gaps != 1 {
		t.Errorf("gaps = %d, want 1", d.Gaps)
	}
}

func TestDetector_ReplayAfterReconnect(t *testing.T) {
	d := New(time.Minute)
	if !d.Closed(bar(0, 100)) || !d.Closed(bar(1, 101)) {
		t.Fatal("increasing final klines should be emitted")
	}
	tests := []struct {
		name string
		bar  model.Bar
		want bool
	}{
		{"same period", bar(1, 101), false},
		{"older period", bar(0, 100), false},
		{"next period", bar(2, 102), true},
	}
	for _, tt := range tests {
		if got := d.Closed(tt.bar); got != tt.want {
			t.Errorf("%s: Closed = %v, want %v", tt.name, got, tt.want)
		}
	}
	if _, ok := d.Forming(bar(1, 101)); ok {
		t.Error("stale preview should be ignored")
	}
	if _, ok := d.Pending(); ok {
		t.Error("stale preview should not become pending")
	}
}
