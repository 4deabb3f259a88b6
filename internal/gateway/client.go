package gateway

import (
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"trendcross/internal/model"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client subscriptions keyed by series key ("BTCUSDT:1h").
	// No subscriptions means the client receives every channel.
	subMu sync.RWMutex
	subs  map[string]model.Series
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]model.Series),
	}
}

// sendInitialState replays envelopes newer than lastSeq or, for a fresh
// client, the latest value of every channel.
func (c *Client) sendInitialState(lastSeq int64) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}

	if lastSeq > 0 {
		var missed []replayEntry
		for _, rb := range c.hub.replayBufs {
			missed = append(missed, rb.Since(lastSeq)...)
		}
		sort.Slice(missed, func(i, j int) bool { return missed[i].GlobalSeq < missed[j].GlobalSeq })
		for _, e := range missed {
			select {
			case c.send <- e.Data:
			default:
			}
		}
		return
	}

	for channel, entry := range c.hub.latest {
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[api_gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg []byte) {
	var base struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	if json.Unmarshal(msg, &base) != nil {
		return
	}

	switch base.Type {
	case "SUBSCRIBE":
		var sub SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
			return
		}
		go c.handleSubscribe(sub)

	case "UNSUBSCRIBE":
		var unsub UnsubscribeMsg
		if err := json.Unmarshal(msg, &unsub); err != nil {
			return
		}
		c.handleUnsubscribe(unsub)

	default:
		if base.Ping > 0 {
			SendJSON(c, map[string]interface{}{
				"type":      "pong",
				"ping":      base.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
		}
	}
}

// handleSubscribe registers a series and replies with a SNAPSHOT of its
// recent events.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	series, ok := msg.Series()
	if !ok {
		SendError(c, msg.ReqID, "symbol and interval are required")
		return
	}

	c.subMu.Lock()
	c.subs[series.Key()] = series
	c.subMu.Unlock()

	log.Printf("[subscribe] client subscribed: %s", series.Key())

	snap, err := c.hub.buildSnapshot(series, msg.History.Events)
	if err != nil {
		SendError(c, msg.ReqID, "snapshot build failed: "+err.Error())
		return
	}
	snap.ReqID = msg.ReqID
	SendJSON(c, snap)
}

func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	series := model.Series{Symbol: strings.ToUpper(msg.Symbol), Interval: msg.Interval}
	c.subMu.Lock()
	delete(c.subs, series.Key())
	c.subMu.Unlock()

	log.Printf("[subscribe] client unsubscribed: %s", series.Key())
}

// matchesChannel reports whether the client should receive channel.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	key, ok := seriesKeyOf(channel)
	if !ok {
		return true // non-series channel: always deliver
	}
	_, subscribed := c.subs[key]
	return subscribed
}

// seriesKeyOf extracts "SYMBOL:interval" from "events:SYMBOL:interval" or
// "forming:SYMBOL:interval".
func seriesKeyOf(channel string) (string, bool) {
	for _, prefix := range []string{"events:", "forming:"} {
		if key, ok := strings.CutPrefix(channel, prefix); ok && strings.Count(key, ":") == 1 {
			return key, true
		}
	}
	return "", false
}
