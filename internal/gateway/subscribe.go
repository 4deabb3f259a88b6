package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"trendcross/internal/model"
)

// ── WS Protocol Message Types ──

// SubscribeMsg is the client → server SUBSCRIBE request.
type SubscribeMsg struct {
	Type     string         `json:"type"`     // "SUBSCRIBE"
	ReqID    string         `json:"reqId"`    // client-generated request ID
	Symbol   string         `json:"symbol"`   // e.g. "BTCUSDT"
	Interval string         `json:"interval"` // e.g. "1h"
	History  HistoryRequest `json:"history"`
}

// Series returns the requested series; symbols are upper-cased.
func (m SubscribeMsg) Series() (model.Series, bool) {
	if m.Symbol == "" || m.Interval == "" {
		return model.Series{}, false
	}
	return model.Series{Symbol: strings.ToUpper(m.Symbol), Interval: m.Interval}, true
}

// HistoryRequest specifies how many past events the snapshot carries.
type HistoryRequest struct {
	Events int `json:"events"`
}

// UnsubscribeMsg is the client → server UNSUBSCRIBE request.
type UnsubscribeMsg struct {
	Type     string `json:"type"` // "UNSUBSCRIBE"
	ReqID    string `json:"reqId"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// SnapshotResponse is the server → client SNAPSHOT with recent events.
type SnapshotResponse struct {
	Type     string        `json:"type"` // "SNAPSHOT"
	ReqID    string        `json:"reqId"`
	Symbol   string        `json:"symbol"`
	Interval string        `json:"interval"`
	Events   []model.Event `json:"events"`
	Source   string        `json:"source"` // "redis" or "memory"
}

// ErrorResponse is the server → client ERROR message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

const (
	defaultSnapshotEvents = 200
	maxSnapshotEvents     = 2000
)

// buildSnapshot reads up to n recent events for series, from History when
// configured and otherwise from the in-memory replay buffer.
func (h *Hub) buildSnapshot(series model.Series, n int) (*SnapshotResponse, error) {
	if n <= 0 {
		n = defaultSnapshotEvents
	}
	if n > maxSnapshotEvents {
		n = maxSnapshotEvents
	}
	snap := &SnapshotResponse{
		Type:     "SNAPSHOT",
		Symbol:   series.Symbol,
		Interval: series.Interval,
		Events:   []model.Event{},
	}

	if h.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		events, err := h.History.RecentEvents(ctx, series, int64(n))
		if err != nil {
			return nil, err
		}
		snap.Events = append(snap.Events, events...)
		snap.Source = "redis"
		return snap, nil
	}

	snap.Source = "memory"
	h.mu.RLock()
	rb := h.replayBufs[EventsChannel(series)]
	h.mu.RUnlock()
	if rb == nil {
		return snap, nil
	}
	for _, e := range rb.Last(n) {
		var env struct {
			Data model.Event `json:"data"`
		}
		if err := json.Unmarshal(e.Data, &env); err != nil {
			continue
		}
		snap.Events = append(snap.Events, env.Data)
	}
	return snap, nil
}

// SendJSON marshals and sends a message to the client's send channel.
// Messages to a disconnected or saturated client are dropped.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[subscribe] json marshal error: %v", err)
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[subscribe] client send buffer full, dropping message")
	}
}

// SendError sends an error response to the client.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{
		Type:  "ERROR",
		ReqID: reqID,
		Error: errMsg,
	})
}
