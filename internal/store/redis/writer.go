package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trendcross/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// eventsMaxLen caps each series stream; trimming is approximate.
	eventsMaxLen  = 5000
	summaryTTL    = 24 * time.Hour
	writeDeadline = 2 * time.Second
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes live session events and summaries to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
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

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// HandleEvent appends ev to the series stream, publishes it, and keeps the
// position key in step with entry/exit events. All commands share one pipeline.
func (w *Writer) HandleEvent(ctx context.Context, ev model.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeDeadline)
	defer cancel()

	payload := ev.JSON()
	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: EventsStream(ev.Series),
		MaxLen: eventsMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(ev.Type),
			"ts":   ev.TS.UnixMilli(),
			"data": payload,
		},
	})
	pipe.Publish(ctx, EventsChannel(ev.Series), payload)

	switch ev.Type {
	case model.EventEntry:
		if ev.Position != nil {
			pos, err := json.Marshal(ev.Position)
			if err != nil {
				return fmt.Errorf("marshal position: %w", err)
			}
			pipe.Set(ctx, PositionKey(ev.Series), pos, 0)
		}
	case model.EventExit:
		pipe.Del(ctx, PositionKey(ev.Series))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis event %s %s: %w", ev.Series.Key(), ev.Type, err)
	}
	return nil
}

// SaveSummary stores the latest summary for a series.
func (w *Writer) SaveSummary(ctx context.Context, series model.Series, s model.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := w.client.Set(ctx, SummaryKey(series), data, summaryTTL).Err(); err != nil {
		return fmt.Errorf("redis summary %s: %w", series.Key(), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
