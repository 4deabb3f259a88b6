package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"trendcross/internal/model"

	"github.com/gorilla/websocket"
)

// EventHistory serves recent events for SUBSCRIBE snapshots.
type EventHistory interface {
	RecentEvents(ctx context.Context, series model.Series, n int64) ([]model.Event, error)
}

// Hub manages WebSocket clients and fans live events out to them.
// It acts as a compositor, delegating to focused components:
//   - EventRouter: Redis subscription feeding the hub from a separate live process
//   - Broadcaster: envelope construction + client-filtered fan-out
//   - StrategyStore: dashboard strategy parameters + broadcast
type Hub struct {
	// Step returns an interval's bar duration; used to measure bar-close
	// to emit latency. Optional.
	Step func(interval string) time.Duration
	// History backs SUBSCRIBE snapshots. Optional; the in-memory replay
	// buffers are used when nil.
	History EventHistory

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer

	// Bar-close to WS emit latency
	Latency *LatencyTracker

	Broadcaster *Broadcaster
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq for gap detection
}

// NewHub creates a new Hub for managing WS clients.
func NewHub() *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// EventsChannel names the WS channel carrying a series' session events.
func EventsChannel(s model.Series) string { return "events:" + s.Key() }

// FormingChannel names the WS channel carrying in-progress bar previews.
func FormingChannel(s model.Series) string { return "forming:" + s.Key() }

// HandleEvent implements model.EventSink: each event is broadcast on its
// series channel.
func (h *Hub) HandleEvent(_ context.Context, ev model.Event) error {
	h.Broadcaster.Broadcast(EventsChannel(ev.Series), ev.JSON(), h.emitLatency(ev))
	return nil
}

// Forming broadcasts a preview of the bar still being built. Previews are
// not kept for late joiners' snapshots beyond the latest value.
func (h *Hub) Forming(series model.Series, bar model.Bar) {
	h.Broadcaster.Broadcast(FormingChannel(series), bar.JSON(), nil)
}

func (h *Hub) emitLatency(ev model.Event) func(now time.Time) {
	if ev.Type != model.EventBar || h.Step == nil {
		return nil
	}
	closeAt := ev.TS.Add(h.Step(ev.Series.Interval))
	return func(now time.Time) {
		if ms := float64(now.Sub(closeAt).Microseconds()) / 1000.0; ms >= 0 {
			h.Latency.Record(ms)
		}
	}
}

// HandleWSRequest registers an upgraded connection as a client. lastSeq,
// when > 0, requests replay of buffered envelopes newer than that global seq.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastSeq int64) {
	client := newClient(h, conn)
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[api_gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastSeq)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub. Safe to call twice.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// GetLatestAll returns snapshot of all latest channel data.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
// Used by the /api/missed REST endpoint for client gap backfill.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendAll delivers a non-channel message (metrics, config) to every client.
func (h *Hub) sendAll(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// StartMetricsBroadcast sends system metrics to all WS clients every 2s.
// streams, when non-nil, reports the number of running live streams.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time, streams func() int) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := CollectMetrics(start)
			m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()
			m.Clients = h.ClientCount()
			if streams != nil {
				m.Streams = streams()
			}
			envelope, _ := json.Marshal(map[string]interface{}{
				"type":    "metrics",
				"metrics": m,
			})
			h.sendAll(envelope)
		}
	}
}
