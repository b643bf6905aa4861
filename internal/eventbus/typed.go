// Package eventbus fans lead updates out to in-process observers such as
// the metrics collector.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 8

// Filter selects the events a subscriber wants. A nil filter takes all.
type Filter[T any] func(T) bool

type subscriber[T any] struct {
	ch     chan T
	filter Filter[T]
}

// TypedBus broadcasts events of type T. Publish never blocks: a subscriber
// with a full buffer misses the event and the miss is counted.
type TypedBus[T any] struct {
	buffer  int
	dropped atomic.Uint64

	mu     sync.RWMutex
	subs   map[<-chan T]*subscriber[T]
	closed bool
}

func NewTyped[T any]() *TypedBus[T] { return NewTypedWithBuffer[T](DefaultBuffer) }

func NewTypedWithBuffer[T any](n int) *TypedBus[T] {
	return &TypedBus[T]{buffer: max(n, 0), subs: make(map[<-chan T]*subscriber[T])}
}

func (b *TypedBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries skipped on full buffers.
func (b *TypedBus[T]) Dropped() uint64 { return b.dropped.Load() }

func (b *TypedBus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscribe returns a channel receiving every event.
func (b *TypedBus[T]) Subscribe() <-chan T { return b.SubscribeFunc(nil) }

// SubscribeFunc returns a channel receiving the events accepted by filter.
// On a closed bus the channel comes back already closed.
func (b *TypedBus[T]) SubscribeFunc(filter Filter[T]) <-chan T {
	s := &subscriber[T]{ch: make(chan T, b.buffer), filter: filter}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s.ch
	}
	b.subs[s.ch] = s
	return s.ch
}

// Unsubscribe closes sub. Unknown channels are ignored.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(s.ch)
	}
}

// Close closes every subscriber. Later publishes are no-ops.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for key, s := range b.subs {
		close(s.ch)
		delete(b.subs, key)
	}
}
