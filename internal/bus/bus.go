// Package bus provides topic-addressed pub/sub for traffic events.
//
// Two implementations share one interface: MemoryBus for single-process
// deployments and RedisBus for multi-sensor deployments where several
// capture hosts feed one analyzer tier.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shadowhunter/backend/internal/telemetry"
)

// Handler processes events delivered on a subscribed topic. Errors are
// logged by the bus and never cancel the subscription.
type Handler func(ctx context.Context, event *telemetry.FlowEvent) error

// Bus is the pub/sub contract between the capture layer and the analyzer.
//
// Delivery is at-most-once: a subscriber that cannot keep up loses events
// rather than blocking the publisher. Events that are delivered reach each
// subscriber in publish order.
type Bus interface {
	// Publish sends an event to all current subscribers of the topic.
	Publish(ctx context.Context, topic string, event *telemetry.FlowEvent) error

	// Subscribe registers a handler for a topic.
	// Returns an unsubscribe function.
	Subscribe(topic string, handler Handler) (unsubscribe func())

	// Close shuts down the bus and all dispatchers.
	Close() error
}

// defaultBufferSize is the per-subscriber queue depth before events are
// shed.
const defaultBufferSize = 100

type memorySubscriber struct {
	id int
	ch chan *telemetry.FlowEvent
}

// subscriberCounter hands out process-wide subscriber ids. Atomic because
// several bus instances draw from it concurrently.
var subscriberCounter atomic.Int64

// MemoryBus is the in-process Bus. Each subscriber owns a buffered channel
// drained by a dedicated dispatch goroutine, which preserves per-subscriber
// ordering while keeping Publish non-blocking.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]*memorySubscriber
	bufferSize  int
	closed      bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewMemoryBus creates an in-process bus; bufferSize <= 0 uses the default.
func NewMemoryBus(bufferSize int) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &MemoryBus{
		subscribers: make(map[string][]*memorySubscriber),
		bufferSize:  bufferSize,
	}
}

// Publish delivers the event to every subscriber queue that has room.
// Full queues drop the event for that subscriber.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event *telemetry.FlowEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	b.published.Add(1)
	for _, sub := range b.subscribers[topic] {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a handler and starts its dispatcher. On a closed bus
// it registers nothing and returns a no-op unsubscribe.
func (b *MemoryBus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	sub := &memorySubscriber{
		id: int(subscriberCounter.Add(1)),
		ch: make(chan *telemetry.FlowEvent, b.bufferSize),
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)

	go dispatch(topic, sub.ch, handler)

	id := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[topic]
		for i, entry := range subs {
			if entry.id == id {
				b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				close(entry.ch)
				break
			}
		}
	}
}

// Close shuts down all subscriber dispatchers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subscribers = nil
	return nil
}

// Published reports how many events were accepted for delivery.
func (b *MemoryBus) Published() int64 { return b.published.Load() }

// Dropped reports how many per-subscriber deliveries were shed.
func (b *MemoryBus) Dropped() int64 { return b.dropped.Load() }

// dispatch drains a subscriber queue in order. Handler errors are logged
// and the subscription stays live.
func dispatch(topic string, ch <-chan *telemetry.FlowEvent, handler Handler) {
	for event := range ch {
		if err := handler(context.Background(), event); err != nil {
			slog.Warn("[Bus] Handler error", "topic", topic, "error", err)
		}
	}
}
