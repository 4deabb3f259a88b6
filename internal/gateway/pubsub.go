package gateway

import (
	"context"
	"log"
	"time"

	"trendcross/internal/model"
)

// EventSource delivers events published by a live process running elsewhere.
type EventSource interface {
	SubscribeEvents(ctx context.Context, out chan<- model.Event, series ...model.Series) error
}

// EventRouter feeds the hub from an EventSource (Redis pub/sub) so the
// gateway can serve streams run by a separate cmd/live process.
type EventRouter struct {
	hub    *Hub
	source EventSource
	series []model.Series

	// Local reports series the gateway runs in-process; their events
	// already reach the hub directly and are skipped here.
	Local func(model.Series) bool
}

// NewEventRouter creates a router for the given series.
func NewEventRouter(hub *Hub, source EventSource, series ...model.Series) *EventRouter {
	return &EventRouter{hub: hub, source: source, series: series}
}

// Run subscribes and forwards events until ctx is cancelled, resubscribing
// with backoff when the subscription fails.
func (r *EventRouter) Run(ctx context.Context) {
	if len(r.series) == 0 {
		log.Println("[api_gateway] WARNING: no series to subscribe to")
		return
	}

	events := make(chan model.Event, 256)
	go func() {
		delay := time.Second
		for ctx.Err() == nil {
			err := r.source.SubscribeEvents(ctx, events, r.series...)
			if ctx.Err() != nil {
				return
			}
			log.Printf("[api_gateway] event subscription ended, retrying in %v: %v", delay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay < 30*time.Second {
				delay *= 2
			}
		}
	}()

	log.Printf("[api_gateway] subscribed to %d series", len(r.series))
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if r.Local != nil && r.Local(ev.Series) {
				continue
			}
			r.hub.HandleEvent(ctx, ev)
		}
	}
}
