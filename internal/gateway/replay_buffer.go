package gateway

import "sync"

// replayEntry holds a single broadcasted message for replay.
type replayEntry struct {
	Seq       int64 // per-channel seq
	GlobalSeq int64
	Data      []byte // pre-built envelope JSON
}

// ReplayBuffer is a fixed-size circular buffer of recent WS envelopes
// per channel. Supports Range queries for client gap backfill and Since
// queries for reconnecting clients.
//
// Thread-safe for concurrent writes and reads.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayCapacity
	}
	return &ReplayBuffer{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

// Push appends an envelope to the buffer. Overwrites oldest entry when full.
func (rb *ReplayBuffer) Push(seq, globalSeq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	rb.buf[rb.pos] = replayEntry{Seq: seq, GlobalSeq: globalSeq, Data: cp}
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 && !rb.full {
		rb.full = true
	}
}

// Range returns all entries with channel seq in [fromSeq, toSeq] (inclusive),
// oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	return rb.filter(func(e replayEntry) bool { return e.Seq >= fromSeq && e.Seq <= toSeq })
}

// Since returns all entries with global seq > globalSeq, oldest first.
func (rb *ReplayBuffer) Since(globalSeq int64) []replayEntry {
	return rb.filter(func(e replayEntry) bool { return e.GlobalSeq > globalSeq })
}

// Last returns up to n most recent entries, oldest first.
func (rb *ReplayBuffer) Last(n int) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	count := rb.len()
	if n > count {
		n = count
	}
	out := make([]replayEntry, 0, n)
	for i := count - n; i < count; i++ {
		out = append(out, rb.buf[rb.index(i)])
	}
	return out
}

func (rb *ReplayBuffer) filter(keep func(replayEntry) bool) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []replayEntry
	for i := 0; i < rb.len(); i++ {
		e := rb.buf[rb.index(i)]
		if keep(e) {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}
