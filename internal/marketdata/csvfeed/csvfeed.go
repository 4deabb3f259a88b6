// Package csvfeed loads OHLCV bars from CSV files.
//
// Expected columns: timestamp, open, high, low, close[, volume]. A header row
// is optional; when present, columns are located by name (case-insensitive).
// Timestamps may be epoch seconds, epoch milliseconds, RFC3339 or
// "2006-01-02 15:04:05" (UTC).
package csvfeed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"trendcross/internal/model"
)

var columnAliases = map[string]int{
	"timestamp": 0, "time": 0, "date": 0, "datetime": 0, "open_time": 0, "ts": 0,
	"open": 1, "high": 2, "low": 3, "close": 4, "volume": 5,
}

// LoadFile opens path and calls Load.
func LoadFile(path string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load parses bars from r and returns them sorted by timestamp. Rows that
// fail the OHLC envelope check are rejected with an error naming the line.
func Load(r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	cols := []int{0, 1, 2, 3, 4, 5}
	var bars []model.Bar
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvfeed: %w", err)
		}
		line++
		if line == 1 && isHeader(rec) {
			if cols, err = headerColumns(rec); err != nil {
				return nil, err
			}
			continue
		}
		bar, err := parseRecord(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("csvfeed: line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	return bars, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	if err == nil {
		return false
	}
	_, err = parseTime(rec[0])
	return err != nil
}

// headerColumns maps field index -> record position; -1 = absent.
func headerColumns(rec []string) ([]int, error) {
	cols := []int{-1, -1, -1, -1, -1, -1}
	for pos, name := range rec {
		if field, ok := columnAliases[strings.ToLower(strings.TrimSpace(name))]; ok && cols[field] < 0 {
			cols[field] = pos
		}
	}
	for field, pos := range cols[:5] {
		if pos < 0 {
			return nil, fmt.Errorf("csvfeed: header missing column %d (timestamp,open,high,low,close)", field)
		}
	}
	return cols, nil
}

func parseRecord(rec []string, cols []int) (model.Bar, error) {
	get := func(field int) (string, bool) {
		pos := cols[field]
		if pos < 0 || pos >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(strings.Trim(rec[pos], `"`)), true
	}

	tsStr, ok := get(0)
	if !ok {
		return model.Bar{}, fmt.Errorf("missing timestamp")
	}
	ts, err := parseTime(tsStr)
	if err != nil {
		return model.Bar{}, err
	}

	var vals [5]float64
	for field := 1; field <= 5; field++ {
		s, ok := get(field)
		if !ok || s == "" {
			if field == 5 {
				continue // volume is optional
			}
			return model.Bar{}, fmt.Errorf("missing field %d", field)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("field %d: %w", field, err)
		}
		vals[field-1] = v
	}

	bar := model.Bar{TS: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}
	return bar, bar.Validate()
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
