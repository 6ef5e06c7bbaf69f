// Package broadcast implements a single-value watch channel: a publisher
// stores the latest value and fans it out to every subscriber currently
// registered. It is the generic form of the subscriber-channel-map pattern
// used for the broker's per-task status notifications, where a waiter must
// be able to subscribe before the first value transition happens so it
// never misses an update.
package broadcast

import "sync"

// Channel holds the latest value of type T and distributes updates to
// subscribers. The zero value is not usable; construct with New.
type Channel[T any] struct {
	mu          sync.Mutex
	value       T
	subscribers map[chan T]struct{}
}

// New creates a Channel seeded with the given initial value.
func New[T any](initial T) *Channel[T] {
	return &Channel[T]{
		value:       initial,
		subscribers: make(map[chan T]struct{}),
	}
}

// Get returns the current value.
func (c *Channel[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Subscribe registers a new subscriber and returns a receive-only channel
// plus an unsubscribe function. The subscriber channel is buffered so a slow
// or absent reader never blocks Send. Subscribe must be called before the
// transition the caller intends to observe, or it may be missed.
func (c *Channel[T]) Subscribe() (<-chan T, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan T, 8)
	c.subscribers[ch] = struct{}{}

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Send stores v as the current value and pushes it to every subscriber.
// A subscriber whose buffer is full is skipped for this update rather than
// blocking the sender; it will still observe the most recent Send before it
// unsubscribes, since Get always reflects the latest value.
func (c *Channel[T]) Send(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	for sub := range c.subscribers {
		select {
		case sub <- v:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (c *Channel[T]) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}
