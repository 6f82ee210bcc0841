// internal/service/event_bus.go
package service

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"actuator-hub/internal/message"
)

// EventBus fans unsolicited server messages (DeviceAdded, DeviceRemoved,
// ScanningFinished) out to sessions and bridges
type EventBus struct {
	subscribers map[uint64]*subscription
	nextID      uint64
	mutex       sync.RWMutex
	logger      *zap.Logger
}

type subscription struct {
	name    string
	ch      chan message.Message
	dropped atomic.Uint64
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[uint64]*subscription),
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Subscribe returns a channel receiving every published event and a cancel
// function that closes it
func (eb *EventBus) Subscribe(name string, buffer int) (<-chan message.Message, func()) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	id := eb.nextID
	eb.nextID++
	sub := &subscription{name: name, ch: make(chan message.Message, buffer)}
	eb.subscribers[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			eb.mutex.Lock()
			delete(eb.subscribers, id)
			eb.mutex.Unlock()
			close(sub.ch)
		})
	}
}

// Publish hands msg to every subscriber. A subscriber whose buffer is full
// misses the event.
func (eb *EventBus) Publish(msg message.Message) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, sub := range eb.subscribers {
		select {
		case sub.ch <- msg:
		default:
			n := sub.dropped.Add(1)
			eb.logger.Warn("Subscriber is slow, dropping event",
				zap.String("subscriber", sub.name),
				zap.String("kind", msg.Kind().String()),
				zap.Uint64("dropped_total", n),
			)
		}
	}
}

// Subscribers returns the number of active subscriptions
func (eb *EventBus) Subscribers() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}
