package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"trendcross/internal/model"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

var btc1h = model.Series{Symbol: "BTCUSDT", Interval: "1h"}

// addTestClient registers a connectionless client so broadcasts land in
// its send channel.
func addTestClient(h *Hub, subs ...model.Series) *Client {
	c := newClient(h, nil)
	for _, s := range subs {
		c.subs[s.Key()] = s
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func drain(c *Client) []envelope {
	var out []envelope
	for {
		select {
		case msg := <-c.send:
			var env envelope
			if err := json.Unmarshal(msg, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func TestAppendEnvelopeFormat(t *testing.T) {
	channel := EventsChannel(btc1h)
	data := []byte(`{"type":"signal","signal":"bullish","price":103}`)
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)

	buf := appendEnvelope(nil, channel, data, now, 42, 7)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != channel {
		t.Errorf("channel: got %q, want %q", env.Channel, channel)
	}
	if env.Seq != 42 || env.ChannelSeq != 7 {
		t.Errorf("seq/channel_seq: got %d/%d, want 42/7", env.Seq, env.ChannelSeq)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if payload["signal"] != "bullish" {
		t.Errorf("data.signal = %v, want bullish", payload["signal"])
	}
	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil {
		t.Fatalf("ts is not valid RFC3339Nano: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("ts: got %v, want %v", parsed, now)
	}
}

func TestSeriesKeyOf(t *testing.T) {
	tests := []struct {
		channel string
		want    string
		ok      bool
	}{
		{"events:BTCUSDT:1h", "BTCUSDT:1h", true},
		{"forming:ETHUSDT:15m", "ETHUSDT:15m", true},
		{"events:BTCUSDT", "", false},
		{"events:A:B:C", "", false},
		{"metrics", "", false},
		{"strategy", "", false},
	}
	for _, tt := range tests {
		got, ok := seriesKeyOf(tt.channel)
		if got != tt.want || ok != tt.ok {
			t.Errorf("seriesKeyOf(%q) = %q, %v; want %q, %v", tt.channel, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBroadcast_PerChannelSeq(t *testing.T) {
	h := NewHub()
	c := addTestClient(h)
	eth := model.Series{Symbol: "ETHUSDT", Interval: "1h"}

	for i := 0; i < 3; i++ {
		h.Broadcaster.Broadcast(EventsChannel(btc1h), []byte(`{}`), nil)
	}
	for i := 0; i < 2; i++ {
		h.Broadcaster.Broadcast(EventsChannel(eth), []byte(`{}`), nil)
	}

	got := drain(c)
	if len(got) != 5 {
		t.Fatalf("received %d envelopes, want 5", len(got))
	}
	wantChannelSeq := []int64{1, 2, 3, 1, 2}
	for i, env := range got {
		if env.Seq != int64(i+1) {
			t.Errorf("env %d: seq = %d, want %d", i, env.Seq, i+1)
		}
		if env.ChannelSeq != wantChannelSeq[i] {
			t.Errorf("env %d: channel_seq = %d, want %d", i, env.ChannelSeq, wantChannelSeq[i])
		}
	}
	if s := h.GetChannelSeq(EventsChannel(btc1h)); s != 3 {
		t.Errorf("GetChannelSeq = %d, want 3", s)
	}
}

func TestBroadcast_SubscriptionFilter(t *testing.T) {
	h := NewHub()
	all := addTestClient(h)
	onlyBTC := addTestClient(h, btc1h)
	eth := model.Series{Symbol: "ETHUSDT", Interval: "1h"}

	h.Broadcaster.Broadcast(EventsChannel(btc1h), []byte(`{}`), nil)
	h.Broadcaster.Broadcast(FormingChannel(eth), []byte(`{}`), nil)
	h.Broadcaster.Broadcast("strategy", []byte(`{}`), nil)

	if n := len(drain(all)); n != 3 {
		t.Errorf("unsubscribed client got %d envelopes, want 3", n)
	}
	got := drain(onlyBTC)
	if len(got) != 2 {
		t.Fatalf("subscribed client got %d envelopes, want 2", len(got))
	}
	if got[0].Channel != "events:BTCUSDT:1h" || got[1].Channel != "strategy" {
		t.Errorf("channels = %q, %q", got[0].Channel, got[1].Channel)
	}
}

func TestHub_ReplayRangeAndLatest(t *testing.T) {
	h := NewHub()
	ch := EventsChannel(btc1h)
	for i := 0; i < 5; i++ {
		h.Broadcaster.Broadcast(ch, []byte(`{"n":1}`), nil)
	}
	if got := h.GetReplayRange(ch, 2, 4); len(got) != 3 {
		t.Errorf("GetReplayRange(2,4) = %d entries, want 3", len(got))
	}
	if got := h.GetReplayRange("events:NOPE:1h", 1, 10); got != nil {
		t.Errorf("unknown channel replay = %v, want nil", got)
	}
	latest := h.GetLatestAll()
	if string(latest[ch]) != `{"n":1}` {
		t.Errorf("latest[%s] = %s", ch, latest[ch])
	}
}

func TestSendInitialState_ReplaysSinceLastSeq(t *testing.T) {
	h := NewHub()
	for i := 0; i < 4; i++ {
		h.Broadcaster.Broadcast(EventsChannel(btc1h), []byte(`{}`), nil)
	}
	c := addTestClient(h)
	c.sendInitialState(2)

	got := drain(c)
	if len(got) != 2 {
		t.Fatalf("replayed %d envelopes, want 2", len(got))
	}
	if got[0].Seq != 3 || got[1].Seq != 4 {
		t.Errorf("replayed seqs %d,%d; want 3,4", got[0].Seq, got[1].Seq)
	}
}

func TestHub_HandleEventRecordsLatency(t *testing.T) {
	h := NewHub()
	h.Step = func(string) time.Duration { return time.Hour }
	now := time.Date(2026, 3, 1, 11, 0, 0, 250e6, time.UTC)
	h.Broadcaster.now = func() time.Time { return now }

	bar := model.Bar{TS: now.Add(-time.Hour).Truncate(time.Hour), Close: 100}
	ev := model.Event{Type: model.EventBar, Series: btc1h, TS: bar.TS, Bar: &bar}
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if n := h.Latency.Count(); n != 1 {
		t.Fatalf("latency samples = %d, want 1", n)
	}
	if max := h.Latency.Max(); max != 250 {
		t.Errorf("latency max = %v ms, want 250", max)
	}

	// Non-bar events are not latency samples.
	sig := model.Event{Type: model.EventSignal, Series: btc1h, TS: bar.TS, Signal: model.SignalBullish}
	_ = h.HandleEvent(context.Background(), sig)
	if n := h.Latency.Count(); n != 1 {
		t.Errorf("latency samples after signal = %d, want 1", n)
	}
}

func TestBuildSnapshot_FromMemory(t *testing.T) {
	h := NewHub()
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := model.Event{Type: model.EventSignal, Series: btc1h, TS: ts.Add(time.Duration(i) * time.Hour), Signal: model.SignalBearish, Price: 100}
		_ = h.HandleEvent(context.Background(), ev)
	}

	snap, err := h.buildSnapshot(btc1h, 2)
	if err != nil {
		t.Fatalf("buildSnapshot: %v", err)
	}
	if snap.Source != "memory" {
		t.Errorf("source = %q, want memory", snap.Source)
	}
	if len(snap.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(snap.Events))
	}
	if !snap.Events[1].TS.Equal(ts.Add(2*time.Hour)) || snap.Events[1].Signal != model.SignalBearish {
		t.Errorf("last event = %+v", snap.Events[1])
	}
}

type fakeHistory struct {
	events []model.Event
	n      int64
}

func (f *fakeHistory) RecentEvents(_ context.Context, _ model.Series, n int64) ([]model.Event, error) {
	f.n = n
	return f.events, nil
}

func TestBuildSnapshot_FromHistoryClampsCount(t *testing.T) {
	h := NewHub()
	hist := &fakeHistory{events: []model.Event{{Type: model.EventBar, Series: btc1h}}}
	h.History = hist

	snap, err := h.buildSnapshot(btc1h, 1_000_000)
	if err != nil {
		t.Fatalf("buildSnapshot: %v", err)
	}
	if snap.Source != "redis" || len(snap.Events) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if hist.n != maxSnapshotEvents {
		t.Errorf("requested %d events, want %d", hist.n, maxSnapshotEvents)
	}

	if _, err := h.buildSnapshot(btc1h, 0); err != nil {
		t.Fatal(err)
	}
	if hist.n != defaultSnapshotEvents {
		t.Errorf("default request = %d, want %d", hist.n, defaultSnapshotEvents)
	}
}

func TestRemoveClientIdempotent(t *testing.T) {
	h := NewHub()
	c := addTestClient(h)
	h.RemoveClient(c)
	h.RemoveClient(c)
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", h.ClientCount())
	}
	// Sends to a removed client are dropped, not panics.
	SendJSON(c, map[string]string{"type": "x"})
}
