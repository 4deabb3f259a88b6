package gateway

import (
	"strconv"
	"time"
)

// replayCapacity is the number of envelopes kept per channel.
const replayCapacity = 500

// Broadcaster constructs envelope JSON and sends filtered messages to clients.
type Broadcaster struct {
	hub *Hub
	now func() time.Time
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub, now: time.Now}
}

// Broadcast sends data on a channel to all subscribed clients.
// The envelope is built by hand; data must already be valid JSON.
// Includes a global seq and a per-channel seq for client-side gap detection.
// observe, if non-nil, is called with the emit time.
func (b *Broadcaster) Broadcast(channel string, data []byte, observe func(now time.Time)) {
	now := b.now().UTC()

	b.hub.mu.Lock()
	b.hub.channelSeqs[channel]++
	channelSeq := b.hub.channelSeqs[channel]
	b.hub.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	b.hub.seq++
	seq := b.hub.seq

	buf := appendEnvelope(make([]byte, 0, len(channel)+len(data)+160), channel, data, now, seq, channelSeq)
	rb, exists := b.hub.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(replayCapacity)
		b.hub.replayBufs[channel] = rb
	}
	// Pushed under the hub lock so replay order matches seq order.
	rb.Push(channelSeq, seq, buf)
	b.hub.mu.Unlock()

	b.hub.mu.RLock()
	for client := range b.hub.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
	b.hub.mu.RUnlock()

	if observe != nil {
		observe(b.now())
	}
}

// appendEnvelope writes
// {"channel":"...","data":...,"ts":"...","seq":N,"channel_seq":M} to buf.
func appendEnvelope(buf []byte, channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}
