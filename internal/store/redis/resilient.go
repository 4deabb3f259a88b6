package redis

import (
	"context"
	"log"
	"time"

	"trendcross/internal/model"
)

const (
	resilientMaxFailures = 5
	resilientResetAfter  = 10 * time.Second
	resilientBufferSize  = 10000
)

// ResilientHooks receives breaker and buffer notifications. Nil hooks are skipped.
type ResilientHooks struct {
	OnStateChange func(from, to State)
	OnBuffer      func()
	OnFlush       func(count int)
}

// NewResilientWriter guards sink with a circuit breaker and a local buffer
// so a Redis outage never blocks the caller.
func NewResilientWriter(ctx context.Context, sink model.EventSink, hooks ResilientHooks) *BufferedWriter {
	cb := NewCircuitBreaker(resilientMaxFailures, resilientResetAfter)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if hooks.OnStateChange != nil {
			hooks.OnStateChange(from, to)
		}
	}
	bw := NewBufferedWriter(ctx, sink, cb, resilientBufferSize)
	bw.OnBuffer = hooks.OnBuffer
	bw.OnFlush = hooks.OnFlush
	return bw
}
