// Package binance fetches historical klines over REST and streams closed
// klines over WebSocket from the Binance spot API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trendcross/internal/model"
)

// pageLimit is the maximum klines per REST request.
const pageLimit = 1000

// Client is a minimal REST client for /api/v3/klines.
type Client struct {
	baseURL string
	http    *http.Client

	// now is overridable in tests; klines closing after now are dropped.
	now func() time.Time
}

// NewClient creates a client for baseURL (e.g. https://api.binance.com).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
}

// Klines returns closed bars with open time in [start, end), oldest first.
// Requests are paginated at 1000 klines each. Implements model.HistoricalSource.
func (c *Client) Klines(ctx context.Context, series model.Series, start, end time.Time) ([]model.Bar, error) {
	if _, ok := IntervalDuration(series.Interval); !ok {
		return nil, fmt.Errorf("binance: unsupported interval %q", series.Interval)
	}
	now := c.now()
	var bars []model.Bar
	cursor := start

	for cursor.Before(end) {
		page, err := c.fetchPage(ctx, series, cursor, end)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, k := range page {
			if !k.bar.TS.Before(end) || k.closeTime.After(now) {
				continue
			}
			bars = append(bars, k.bar)
		}
		if len(page) < pageLimit {
			break
		}
		next := page[len(page)-1].bar.TS.Add(time.Millisecond)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}

	log.Printf("[binance] fetched %d %s klines for %s", len(bars), series.Interval, series.Symbol)
	return bars, nil
}

// HistoricalDays returns closed bars for the last days days.
func (c *Client) HistoricalDays(ctx context.Context, series model.Series, days int) ([]model.Bar, error) {
	if days < 1 {
		days = 1
	}
	end := c.now().UTC()
	return c.Klines(ctx, series, end.AddDate(0, 0, -days), end)
}

type kline struct {
	bar       model.Bar
	closeTime time.Time
}

func (c *Client) fetchPage(ctx context.Context, series model.Series, start, end time.Time) ([]kline, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(series.Symbol))
	q.Set("interval", series.Interval)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	q.Set("limit", strconv.Itoa(pageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: klines request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("binance: klines status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}
	out := make([]kline, 0, len(raw))
	for i, row := range raw {
		k, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("binance: kline %d: %w", i, err)
		}
		out = append(out, k)
	}
	return out, nil
}

// parseKlineRow decodes [openTime, o, h, l, c, v, closeTime, ...].
func parseKlineRow(row []json.RawMessage) (kline, error) {
	if len(row) < 7 {
		return kline{}, fmt.Errorf("short row (%d fields)", len(row))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return kline{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return kline{}, fmt.Errorf("close time: %w", err)
	}
	var fields [5]string
	for i := range fields {
		if err := json.Unmarshal(row[i+1], &fields[i]); err != nil {
			return kline{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	bar, err := newBar(openMs, fields[0], fields[1], fields[2], fields[3], fields[4])
	if err != nil {
		return kline{}, err
	}
	return kline{bar: bar, closeTime: time.UnixMilli(closeMs).UTC()}, nil
}

// newBar parses exchange decimal strings into a validated bar.
func newBar(openMs int64, o, h, l, c, v string) (model.Bar, error) {
	var vals [5]float64
	for i, s := range []string{o, h, l, c, v} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Bar{}, fmt.Errorf("parse %q: %w", s, err)
		}
		if d.IsNegative() {
			return model.Bar{}, fmt.Errorf("negative value %s", s)
		}
		vals[i], _ = d.Float64()
	}
	bar := model.Bar{
		TS:     time.UnixMilli(openMs).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	if err := bar.Validate(); err != nil {
		return model.Bar{}, err
	}
	return bar, nil
}
