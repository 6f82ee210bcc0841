// pkg/driver/base.go
package driver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"actuator-hub/internal/message"
)

// Handler executes one accepted message kind
type Handler func(ctx context.Context, msg message.DeviceMessage) message.Message

type handlerEntry struct {
	attrs   message.Attributes
	handler Handler
}

// Base implements the bookkeeping half of Device. Drivers embed it and
// register one Handler per accepted kind before the device is found.
type Base struct {
	identifier string
	name       string
	index      atomic.Uint32
	logger     *zap.Logger

	handlers map[message.Kind]handlerEntry

	once         sync.Once
	removed      chan struct{}
	onDisconnect func()
}

// NewBase creates the shared part of a device
func NewBase(identifier, name string, logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		identifier: identifier,
		name:       name,
		logger: logger.With(
			zap.String("device_identifier", identifier),
			zap.String("device_name", name),
			zap.String("component", "device"),
		),
		handlers: make(map[message.Kind]handlerEntry),
		removed:  make(chan struct{}),
	}
}

// AddHandler registers the handler for kind. Call it only during construction.
func (b *Base) AddHandler(kind message.Kind, attrs message.Attributes, h Handler) {
	b.handlers[kind] = handlerEntry{attrs: attrs, handler: h}
}

// OnDisconnect sets the hook run once when the device goes away
func (b *Base) OnDisconnect(fn func()) {
	b.onDisconnect = fn
}

func (b *Base) Identifier() string { return b.identifier }
func (b *Base) Name() string       { return b.name }
func (b *Base) Index() uint32      { return b.index.Load() }
func (b *Base) SetIndex(i uint32)  { b.index.Store(i) }

// Logger returns the device scoped logger
func (b *Base) Logger() *zap.Logger { return b.logger }

// AllowedMessages returns a copy of the accepted kinds
func (b *Base) AllowedMessages() message.AllowedMessages {
	out := make(message.AllowedMessages, len(b.handlers))
	for k, e := range b.handlers {
		out[k] = e.attrs
	}
	return out
}

// Attributes returns the attributes declared for kind
func (b *Base) Attributes(kind message.Kind) (message.Attributes, bool) {
	e, ok := b.handlers[kind]
	return e.attrs, ok
}

// ParseMessage dispatches msg to its registered handler
func (b *Base) ParseMessage(ctx context.Context, msg message.DeviceMessage) message.Message {
	if b.IsRemoved() {
		return message.ErrorFrom(msg.ID(), message.ErrorDevice,
			fmt.Errorf("%s: %w", b.name, ErrDeviceRemoved))
	}

	entry, ok := b.handlers[msg.Kind()]
	if !ok {
		return message.ErrorFrom(msg.ID(), message.ErrorDevice,
			fmt.Errorf("%s: %w: %s", b.name, ErrUnsupportedMessage, msg.Kind()))
	}

	b.logger.Debug("Dispatching device message",
		zap.String("kind", msg.Kind().String()),
		zap.Uint32("id", msg.ID()),
	)
	return entry.handler(ctx, msg)
}

// Disconnect runs the disconnect hook once and marks the device removed
func (b *Base) Disconnect() {
	b.once.Do(func() {
		if b.onDisconnect != nil {
			b.onDisconnect()
		}
		close(b.removed)
		b.logger.Info("Device disconnected")
	})
}

// Lost is called by drivers when the link dies without a Disconnect request
func (b *Base) Lost(err error) {
	b.logger.Warn("Device link lost", zap.Error(err))
	b.Disconnect()
}

// Removed is closed once the device is gone
func (b *Base) Removed() <-chan struct{} { return b.removed }

// IsRemoved reports whether the device is gone
func (b *Base) IsRemoved() bool {
	select {
	case <-b.removed:
		return true
	default:
		return false
	}
}
