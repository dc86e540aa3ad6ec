// Package bus provides the in-process publish/subscribe channel that
// decouples the sync engine from its consumers (TUI views, tests).
package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to subscribers filtered by namespace prefix.
// Delivery is non-blocking: a subscriber that falls behind loses
// events rather than stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish delivers evt to every subscriber whose namespace is a prefix
// of evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Subscriber buffer full; drop.
			}
		}
	}
}

// Subscribe registers a subscriber for all events whose kind starts
// with namespace. Returns the receive channel and an unsubscribe
// function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
