package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"trendcross/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("redis: not found")

// Reader serves published summaries, positions and events to readers such
// as the API gateway.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg WriterConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// LatestSummary returns the last summary saved for series.
func (r *Reader) LatestSummary(ctx context.Context, series model.Series) (model.Summary, error) {
	var s model.Summary
	data, err := r.client.Get(ctx, SummaryKey(series)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, fmt.Errorf("redis get summary: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode summary: %w", err)
	}
	return s, nil
}

// Position returns the open position for series, or nil when flat.
func (r *Reader) Position(ctx context.Context, series model.Series) (*model.Position, error) {
	data, err := r.client.Get(ctx, PositionKey(series)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get position: %w", err)
	}
	var p model.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return &p, nil
}

// RecentEvents returns up to n most recent events for series, oldest first.
func (r *Reader) RecentEvents(ctx context.Context, series model.Series, n int64) ([]model.Event, error) {
	msgs, err := r.client.XRevRangeN(ctx, EventsStream(series), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", EventsStream(series), err)
	}
	out := make([]model.Event, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		ev, err := decodeMessage(msgs[i])
		if err != nil {
			log.Printf("[redis-reader] skip %s: %v", msgs[i].ID, err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// SubscribeEvents forwards published events for the given series to out
// until ctx is cancelled. Undecodable messages are skipped.
func (r *Reader) SubscribeEvents(ctx context.Context, out chan<- model.Event, series ...model.Series) error {
	if len(series) == 0 {
		return fmt.Errorf("subscribe: no series")
	}
	channels := make([]string, len(series))
	for i, s := range series {
		channels[i] = EventsChannel(s)
	}

	sub := r.client.Subscribe(ctx, channels...)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[redis-reader] bad event on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

func decodeMessage(msg goredis.XMessage) (model.Event, error) {
	var ev model.Event
	data, ok := msg.Values["data"].(string)
	if !ok {
		return ev, fmt.Errorf("missing data field")
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ev, err
	}
	return ev, nil
}
