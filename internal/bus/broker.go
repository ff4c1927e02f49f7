package bus

import (
	"sync"
	"sync/atomic"

	"main/internal/schema"
)

// Broker fans domain events out to subscribers (hubs, strategies,
// the journal). Delivery is per-subscriber non-blocking: a slow
// subscriber drops its own events instead of stalling publishers.
type Broker struct {
	buffer int
	onDrop func()

	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped uint64
}

// Subscription is one subscriber's bounded event channel.
type Subscription struct {
	broker *Broker
	ch     chan schema.Event
	once   sync.Once
}

// NewBroker creates a broker with the given per-subscriber buffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broker{
		buffer: buffer,
		subs:   make(map[*Subscription]struct{}),
	}
}

// OnDrop installs a callback invoked once per dropped event. Must be
// set before the first Publish.
func (b *Broker) OnDrop(fn func()) {
	b.onDrop = fn
}

// Subscribe registers a new subscriber. Returns nil after Close.
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	sub := &Subscription{broker: b, ch: make(chan schema.Event, b.buffer)}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every subscriber without blocking.
func (b *Broker) Publish(ev schema.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			atomic.AddUint64(&b.dropped, 1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Dropped returns the total number of events dropped across all
// subscribers.
func (b *Broker) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Close detaches and closes every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

// Events returns the subscriber's receive channel. The channel is
// closed when the subscription or the broker closes.
func (s *Subscription) Events() <-chan schema.Event {
	return s.ch
}

// Close detaches the subscription from the broker.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		delete(b.subs, s)
		close(s.ch)
	})
}
