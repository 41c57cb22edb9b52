// Redis-backed Bus for multi-sensor deployments.
//
// A MemoryBus only delivers events within a single process. RedisBus uses
// Redis Pub/Sub so flows captured on sensor host A reach the analyzer on
// host B. Handlers keep the same ordering and error-isolation guarantees;
// cross-host delivery inherits Redis Pub/Sub semantics (at-most-once).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/shadowhunter/backend/internal/telemetry"
)

// RedisPubSubClient is the minimal Redis surface the bus needs. The
// concrete adapter lives in internal/infra so this package stays free of
// driver imports.
type RedisPubSubClient interface {
	// Publish sends a message to a Redis channel.
	Publish(ctx context.Context, channel string, message []byte) error

	// Subscribe registers a callback for messages on a channel.
	// Returns an unsubscribe function.
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

// envelope wraps a flow event on the wire so consumers can dedupe and
// trace deliveries.
type envelope struct {
	ID    string               `json:"id"`
	Topic string               `json:"topic"`
	Event *telemetry.FlowEvent `json:"event"`
}

// RedisBus distributes traffic events across hosts via Redis Pub/Sub.
// Subscribers receive events published on any host, including their own;
// when Redis publishing fails the event falls back to local-only delivery
// so a broker outage degrades rather than blinds the analyzer.
type RedisBus struct {
	mu          sync.RWMutex
	pubsub      RedisPubSubClient
	prefix      string // Redis channel prefix, e.g. "sh:bus:"
	subscribers map[string][]*memorySubscriber
	unsubFuncs  []func()
	bufferSize  int
	closed      bool
}

// NewRedisBus creates a Redis-backed bus. An empty channelPrefix defaults
// to "sh:bus:"; bufferSize <= 0 uses the default.
func NewRedisBus(client RedisPubSubClient, channelPrefix string, bufferSize int) *RedisBus {
	if channelPrefix == "" {
		channelPrefix = "sh:bus:"
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &RedisBus{
		pubsub:      client,
		prefix:      channelPrefix,
		subscribers: make(map[string][]*memorySubscriber),
		bufferSize:  bufferSize,
	}
}

// Publish sends the event to Redis so every host receives it. Local
// subscribers get it through the Redis echo; on a publish error they get
// it directly.
func (b *RedisBus) Publish(ctx context.Context, topic string, event *telemetry.FlowEvent) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.RUnlock()

	env := envelope{
		ID:    uuid.New().String(),
		Topic: topic,
		Event: event,
	}
	data, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.pubsub.Publish(ctx, b.prefix+topic, data); err != nil {
		slog.Warn("[RedisBus] Publish failed, falling back to local",
			"topic", topic, "error", err)
		b.deliverLocal(topic, event)
		return nil
	}
	return nil
}

// Subscribe registers a handler for a topic. The handler receives events
// from all hosts via the Redis channel.
func (b *RedisBus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return func() {}
	}

	sub := &memorySubscriber{
		id: int(subscriberCounter.Add(1)),
		ch: make(chan *telemetry.FlowEvent, b.bufferSize),
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	go dispatch(topic, sub.ch, handler)

	unsub, err := b.pubsub.Subscribe(context.Background(), b.prefix+topic, func(data []byte) {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("[RedisBus] Failed to unmarshal event", "error", err)
			return
		}
		if env.Event == nil {
			return
		}
		b.deliverLocal(topic, env.Event)
	})

	b.mu.Lock()
	if err != nil {
		slog.Warn("[RedisBus] Redis subscribe failed, local-only mode",
			"topic", topic, "error", err)
	} else {
		b.unsubFuncs = append(b.unsubFuncs, unsub)
	}
	b.mu.Unlock()

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

// Close shuts down the bus and all Redis subscriptions.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, unsub := range b.unsubFuncs {
		unsub()
	}
	b.unsubFuncs = nil
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subscribers = nil

	slog.Info("[RedisBus] Closed")
	return nil
}

// deliverLocal fans an event out to in-process subscriber queues.
func (b *RedisBus) deliverLocal(topic string, event *telemetry.FlowEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers[topic] {
		select {
		case sub.ch <- event:
		default:
		}
	}
}
