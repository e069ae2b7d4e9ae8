package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is an in-memory fan-out publisher.
//
// Publish never blocks: each subscriber has a buffered channel and a slow
// subscriber drops events. Bus owns no goroutines.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewBus returns an empty bus
func NewBus() *Bus {
	return &Bus{subs: map[uint64]chan Event{}}
}

// Publish offers e to every subscriber. Sends happen under the read lock
// and channels are only closed under the write lock, so a subscriber
// cannot be closed mid-send.
func (b *Bus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a buffered subscriber. buffer <= 0 uses 16.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, unsub
}

// Dropped returns how many deliveries were dropped for slow subscribers
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
