package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"trendcross/internal/marketdata/closedetector"
	"trendcross/internal/model"
)

// Stream subscribes to <symbol>@kline_<interval> and forwards closed klines
// as bars. Reconnects with exponential backoff until ctx is cancelled.
type Stream struct {
	wsURL  string
	series model.Series

	ReadTimeout time.Duration

	// OnForming receives in-progress klines (dashboard previews only).
	OnForming func(bar model.Bar)

	// OnReconnect is called before each reconnect attempt.
	OnReconnect func()

	// History fills periods whose final kline never arrived. When nil,
	// missed periods are logged and only a late final kline can close them.
	History model.HistoricalSource

	closes *closedetector.Detector
}

// NewStream creates a kline stream. wsURL is the base endpoint, e.g.
// wss://stream.binance.com:9443/ws.
func NewStream(wsURL string, series model.Series) *Stream {
	step, _ := IntervalDuration(series.Interval)
	return &Stream{
		wsURL:       strings.TrimRight(wsURL, "/"),
		series:      series,
		ReadTimeout: 90 * time.Second,
		closes:      closedetector.New(step),
	}
}

// URL returns the full stream endpoint.
func (s *Stream) URL() string {
	return fmt.Sprintf("%s/%s@kline_%s", s.wsURL, strings.ToLower(s.series.Symbol), s.series.Interval)
}

// Run connects and pushes closed bars into out. Blocks until ctx is cancelled.
func (s *Stream) Run(ctx context.Context, out chan<- model.Bar) error {
	retry := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL(), nil)
		if err != nil {
			delay := Backoff(retry)
			log.Printf("[binance] dial %s failed (retry %d, next in %v): %v", s.series.Key(), retry, delay, err)
			retry++
			if s.OnReconnect != nil {
				s.OnReconnect()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		log.Printf("[binance] connected %s", s.URL())
		retry = 0
		err = s.read(ctx, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[binance] stream %s dropped: %v", s.series.Key(), err)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
	}
}

func (s *Stream) read(ctx context.Context, conn *websocket.Conn, out chan<- model.Bar) error {
	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		if s.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		bar, closed, err := parseKlineEvent(msg)
		if err != nil {
			log.Printf("[binance] parse error: %v", err)
			continue
		}
		if !closed {
			if s.OnForming != nil {
				s.OnForming(bar)
			}
			if gap, ok := s.closes.Forming(bar); ok {
				if err := s.fill(ctx, gap, out); err != nil {
					return err
				}
			}
			continue
		}
		if !s.closes.Closed(bar) {
			continue
		}
		select {
		case out <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fill fetches the closed klines of gap from History and emits the ones
// not closed yet. Only context cancellation is returned as an error.
func (s *Stream) fill(ctx context.Context, gap closedetector.Gap, out chan<- model.Bar) error {
	from, to := gap.From.UTC().Format(time.RFC3339), gap.To.UTC().Format(time.RFC3339)
	if s.History == nil {
		log.Printf("[binance] %s missed final klines %s..%s, no history source", s.series.Key(), from, to)
		return nil
	}
	bars, err := s.History.Klines(ctx, s.series, gap.From, gap.To)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[binance] %s fill %s..%s failed: %v", s.series.Key(), from, to, err)
		return nil
	}
	filled := 0
	for _, bar := range bars {
		if !s.closes.Closed(bar) {
			continue
		}
		select {
		case out <- bar:
			filled++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Printf("[binance] %s filled %d missed klines %s..%s", s.series.Key(), filled, from, to)
	return nil
}

type klineEvent struct {
	EventType string `json:"e"`
	Kline     struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// parseKlineEvent decodes a kline stream payload and reports whether the
// kline is final.
func parseKlineEvent(msg []byte) (model.Bar, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return model.Bar{}, false, err
	}
	if ev.EventType != "kline" {
		return model.Bar{}, false, fmt.Errorf("unexpected event %q", ev.EventType)
	}
	k := ev.Kline
	bar, err := newBar(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return model.Bar{}, false, err
	}
	return bar, k.Closed, nil
}
