package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"trendcross/internal/model"
)

// BufferedWriter wraps an event sink with a circuit breaker.
// While the circuit is open, events are buffered locally and replayed in
// order once the circuit closes again. No event reaches the sink ahead of
// an older buffered one.
type BufferedWriter struct {
	sink model.EventSink
	cb   *CircuitBreaker
	ctx  context.Context

	// flushMu serializes writes to the sink; mu guards the buffer.
	flushMu sync.Mutex
	mu      sync.Mutex
	buffer  []model.Event
	maxBuf  int // max buffered events before dropping oldest (default: 10000)
	dropped int

	// Callbacks
	OnBuffer func()          // called when an event is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered events
}

// NewBufferedWriter creates a BufferedWriter around sink. ctx bounds flushes.
func NewBufferedWriter(ctx context.Context, sink model.EventSink, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		sink:   sink,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]model.Event, 0, 64),
		maxBuf: maxBufferSize,
	}

	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.Flush()
		}
	}
	return bw
}

// HandleEvent forwards ev through the circuit breaker. Events rejected by an
// open circuit are buffered and reported as delivered; failures of the
// underlying sink are returned. While older events are buffered, ev is
// queued behind them and the buffer is drained first.
func (bw *BufferedWriter) HandleEvent(ctx context.Context, ev model.Event) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	if bw.PendingCount() > 0 {
		bw.bufferEvent(ev)
		_, err := bw.drain(true)
		if errors.Is(err, ErrCircuitOpen) {
			return nil
		}
		return err
	}

	err := bw.cb.Execute(func() error {
		return bw.sink.HandleEvent(ctx, ev)
	})
	switch {
	case errors.Is(err, ErrCircuitOpen):
		bw.bufferEvent(ev)
		return nil
	case err != nil:
		bw.bufferEvent(ev)
		return err
	}
	return nil
}

func (bw *BufferedWriter) bufferEvent(ev model.Event) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
		bw.dropped++
	}
	bw.buffer = append(bw.buffer, ev)

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// Flush replays buffered events in arrival order, bypassing the breaker.
// Events that fail again stay buffered.
func (bw *BufferedWriter) Flush() int {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()
	n, _ := bw.drain(false)
	return n
}

// drain sends buffered events oldest first until the buffer is empty or a
// send fails. Callers hold flushMu, so only drain and bufferEvent under the
// same lock change the buffer.
func (bw *BufferedWriter) drain(viaBreaker bool) (int, error) {
	flushed := 0
	var err error
	for {
		bw.mu.Lock()
		if len(bw.buffer) == 0 {
			bw.buffer = make([]model.Event, 0, 64)
			bw.mu.Unlock()
			break
		}
		ev := bw.buffer[0]
		bw.mu.Unlock()

		if viaBreaker {
			err = bw.cb.Execute(func() error { return bw.sink.HandleEvent(bw.ctx, ev) })
		} else {
			err = bw.sink.HandleEvent(bw.ctx, ev)
		}
		if err != nil {
			if !errors.Is(err, ErrCircuitOpen) {
				log.Printf("[buffered-writer] flush stopped after %d events: %v", flushed, err)
			}
			break
		}

		bw.mu.Lock()
		bw.buffer = bw.buffer[1:]
		bw.mu.Unlock()
		flushed++
	}

	if flushed > 0 {
		log.Printf("[buffered-writer] flushed %d buffered events", flushed)
		if bw.OnFlush != nil {
			bw.OnFlush(flushed)
		}
	}
	return flushed, err
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Dropped returns how many buffered events were discarded on overflow.
func (bw *BufferedWriter) Dropped() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.dropped
}
