// internal/mqtt/bridge.go
package mqtt

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"actuator-hub/internal/model"
	"actuator-hub/internal/service"
)

// Publisher sends one message to the broker
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Bridge republishes device manager events on the broker
type Bridge struct {
	publisher Publisher
	topics    Topics
	source    string
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

// NewBridge creates a bridge publishing under prefix
func NewBridge(publisher Publisher, prefix, source string, logger *zap.Logger) *Bridge {
	return &Bridge{
		publisher: publisher,
		topics:    Topics{Prefix: prefix},
		source:    source,
		logger:    logger.With(zap.String("component", "mqtt_bridge")),
		now:       time.Now,
	}
}

// Start subscribes to the bus and publishes until Stop
func (b *Bridge) Start(bus *service.EventBus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}

	events, cancel := bus.Subscribe("mqtt", 64)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for msg := range events {
			ev, ok := model.NewDeviceEvent(msg, b.source, b.now())
			if !ok {
				continue
			}
			b.publish(ev)
		}
	}(b.done)
}

// Topic returns the topic an event is published on
func (b *Bridge) Topic(ev *model.DeviceEvent) string {
	switch ev.EventType {
	case model.EventDeviceAdded:
		return b.topics.DeviceAdded(*ev.DeviceIndex)
	case model.EventDeviceRemoved:
		return b.topics.DeviceRemoved(*ev.DeviceIndex)
	default:
		return b.topics.ScanningFinished()
	}
}

func (b *Bridge) publish(ev *model.DeviceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("Failed to encode event", zap.Error(err))
		return
	}
	topic := b.Topic(ev)
	if err := b.publisher.Publish(topic, payload, false); err != nil {
		b.logger.Warn("Failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

// Stop unsubscribes and waits for queued events to be published
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
