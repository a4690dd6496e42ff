// Package event fans typed events out to subscribers.
package event

import "sync"

// Bus delivers each published event to every subscriber. A subscriber whose
// buffer is full misses the event instead of stalling the publisher.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a channel of events and a function that removes it.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish sends ev without blocking.
func (b *Bus[T]) Publish(ev T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
