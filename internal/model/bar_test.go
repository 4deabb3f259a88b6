package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestBar_Validate(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{"valid", Bar{TS: ts, Open: 10, High: 12, Low: 9, Close: 11, Volume: 5}, false},
		{"flat", Bar{TS: ts, Open: 10, High: 10, Low: 10, Close: 10}, false},
		{"close above high", Bar{TS: ts, Open: 10, High: 11, Low: 9, Close: 12}, true},
		{"open below low", Bar{TS: ts, Open: 8, High: 11, Low: 9, Close: 10}, true},
		{"negative volume", Bar{TS: ts, Open: 10, High: 11, Low: 9, Close: 10, Volume: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckContinuity(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(offsets ...int) []Bar {
		bars := make([]Bar, len(offsets))
		for i, o := range offsets {
			bars[i] = Bar{TS: base.Add(time.Duration(o) * time.Minute)}
		}
		return bars
	}

	if err := CheckContinuity(mk(0, 5, 10, 15), 5*time.Minute); err != nil {
		t.Fatalf("contiguous series: unexpected error %v", err)
	}
	if err := CheckContinuity(mk(0, 5, 15), 5*time.Minute); !errors.Is(err, ErrDataGap) {
		t.Errorf("skipped period: expected ErrDataGap, got %v", err)
	}
	if err := CheckContinuity(mk(0, 5, 5), 0); !errors.Is(err, ErrDataGap) {
		t.Errorf("duplicate ts: expected ErrDataGap, got %v", err)
	}
	if err := CheckContinuity(mk(0, 3, 11), 0); err != nil {
		t.Errorf("step=0 only checks ordering, got %v", err)
	}
}

func TestPosition_Return(t *testing.T) {
	long := Position{Side: SideLong, EntryPrice: 100}
	if r := long.Return(103); math.Abs(r-0.03) > 1e-12 {
		t.Errorf("long return: expected 0.03, got %v", r)
	}
	short := Position{Side: SideShort, EntryPrice: 100}
	if r := short.Return(103); math.Abs(r+0.03) > 1e-12 {
		t.Errorf("short return: expected -0.03, got %v", r)
	}

	for _, exit := range []float64{0, 5} {
		for _, side := range []Side{SideLong, SideShort} {
			p := Position{Side: side, EntryPrice: 0}
			if r := p.Return(exit); r != 0 {
				t.Errorf("%s entered at 0, exit %v: return = %v, want 0", side, exit, r)
			}
		}
	}
}

func TestSeries_Key(t *testing.T) {
	s := Series{Symbol: "BTCUSDT", Interval: "5m"}
	if s.Key() != "BTCUSDT:5m" {
		t.Errorf("expected BTCUSDT:5m, got %s", s.Key())
	}
}
