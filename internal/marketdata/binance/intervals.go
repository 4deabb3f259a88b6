package binance

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Intervals maps the kline intervals served by the API to their duration.
// Month klines are omitted since they have no fixed length.
var Intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// IntervalDuration returns the bar length of interval.
func IntervalDuration(interval string) (time.Duration, bool) {
	d, ok := Intervals[interval]
	return d, ok
}

// IntervalNames lists supported intervals, shortest first.
func IntervalNames() []string {
	names := make([]string, 0, len(Intervals))
	for k := range Intervals {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return Intervals[names[i]] < Intervals[names[j]] })
	return names
}

// IntervalLabel renders an interval name for display: "15m" → "15 Minutes".
func IntervalLabel(interval string) string {
	if len(interval) < 2 {
		return interval
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil {
		return interval
	}
	var unit string
	switch interval[len(interval)-1] {
	case 'm':
		unit = "Minute"
	case 'h':
		unit = "Hour"
	case 'd':
		unit = "Day"
	case 'w':
		unit = "Week"
	default:
		return interval
	}
	if n != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s", n, unit)
}

// Symbols is the default watch list offered by the API.
var Symbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT", "ADAUSDT", "DOGEUSDT"}

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// Backoff returns the reconnect delay for a retry count: 1s * 2^retry,
// capped at 60s.
func Backoff(retry int) time.Duration {
	if retry < 0 {
		return baseDelay
	}
	if retry > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<retry)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
