package events

import (
	"context"
	"errors"
	"sync"
)

// Bus fans serialized call updates out to live subscribers. Delivery is
// at-most-once: a subscriber that falls behind loses messages rather than
// stalling the publisher.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe returns a channel of payloads for topic and a cancel func
	// that releases it. The channel is closed after cancel or when ctx ends.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error)
}

var ErrClosed = errors.New("events: bus closed")

// subscriberBuffer bounds each subscriber's queue.
const subscriberBuffer = 32

// MemoryBus is a process-local Bus. It is enough for a single replica.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[chan []byte]struct{}
	closed bool
	// onDrop is called with the topic when a slow subscriber misses a message.
	onDrop func(topic string)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: map[string]map[chan []byte]struct{}{}}
}

// OnDrop registers a callback for dropped deliveries.
func (b *MemoryBus) OnDrop(fn func(topic string)) { b.onDrop = fn }

func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for ch := range b.topics[topic] {
		select {
		case ch <- payload:
		default:
			if b.onDrop != nil {
				b.onDrop(topic)
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if b.topics[topic] == nil {
		b.topics[topic] = map[chan []byte]struct{}{}
	}
	b.topics[topic][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.topics[topic]; ok {
				if _, ok := subs[ch]; ok {
					delete(subs, ch)
					close(ch)
				}
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
		})
	}
	stop := context.AfterFunc(ctx, release)
	cancel := func() {
		stop()
		release()
	}
	return ch, cancel, nil
}

// Subscribers reports the number of live subscriptions across all topics.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.topics {
		n += len(subs)
	}
	return n
}

// Close ends every subscription.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for ch := range subs {
			close(ch)
		}
		delete(b.topics, topic)
	}
}
