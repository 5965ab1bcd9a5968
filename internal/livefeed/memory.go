package livefeed

import (
	"sync"

	"go.uber.org/zap"

	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
)

// MemoryBroker is an in-process PubSub for tests and local runs without a
// broker. Publish delivers synchronously to exact-topic subscribers.
type MemoryBroker struct {
	mu        sync.Mutex
	handlers  map[string]MessageHandler
	published map[string][][]byte
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		handlers:  make(map[string]MessageHandler),
		published: make(map[string][][]byte),
	}
}

// Subscribe replaces any handler already registered for topic.
func (b *MemoryBroker) Subscribe(topic string, _ byte, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

// Unsubscribe removes handlers.
func (b *MemoryBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
	}
	return nil
}

// Publish records payload and hands it to the topic's subscriber.
func (b *MemoryBroker) Publish(topic string, _ byte, _ bool, payload []byte) error {
	msg := append([]byte(nil), payload...)
	b.mu.Lock()
	b.published[topic] = append(b.published[topic], msg)
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		if err := h(topic, msg); err != nil {
			monitoring.L().Debug("memory broker handler failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	return nil
}

// Subscribed reports whether topic has a subscriber.
func (b *MemoryBroker) Subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

// Published returns copies of every payload published on topic.
func (b *MemoryBroker) Published(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.published[topic]))
	copy(out, b.published[topic])
	return out
}
