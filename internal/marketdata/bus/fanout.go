// Package bus fans a single stream of bars or events out to several
// consumers.
package bus

import (
	"context"
	"log"
	"sync"
)

type output[T any] struct {
	ch       chan T
	lossless bool
}

// FanOut broadcasts values from a single input channel to N output channels.
// Lossy subscribers drop a value when their channel is full so a slow
// consumer cannot block the pipeline; lossless subscribers apply
// backpressure instead (used for the trading session, which must see
// every closed bar).
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []output[T]
	bufSize int

	// OnDrop is called when a value is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new lossy output channel.
func (f *FanOut[T]) Subscribe() <-chan T {
	return f.add(false)
}

// SubscribeLossless creates an output channel that never drops values.
func (f *FanOut[T]) SubscribeLossless() <-chan T {
	return f.add(true)
}

func (f *FanOut[T]) add(lossless bool) <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, output[T]{ch: ch, lossless: lossless})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes all outputs.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.RLock()
		for _, o := range f.outputs {
			close(o.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, o := range f.outputs {
				if o.lossless {
					select {
					case o.ch <- v:
					case <-ctx.Done():
						f.mu.RUnlock()
						return
					}
					continue
				}
				select {
				case o.ch <- v:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[bus] output channel %d full, dropping value", i)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns the saturation of each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, o := range f.outputs {
		stats[i] = ChannelStat{Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}
