// pkg/driver/interfaces.go
package driver

import (
	"context"

	"actuator-hub/internal/message"
)

// Device is the interface that every device driver must implement
type Device interface {
	// Identity
	Identifier() string
	Name() string

	// Index assigned by the device manager. Zero until registered.
	Index() uint32
	SetIndex(index uint32)

	// Capabilities
	AllowedMessages() message.AllowedMessages

	// ParseMessage executes a device command and returns Ok, Error or a
	// reply. A kind the device does not accept yields Error(ERROR_DEVICE).
	ParseMessage(ctx context.Context, msg message.DeviceMessage) message.Message

	// Disconnect releases the device. It is idempotent and closes Removed.
	Disconnect()

	// Removed is closed once the device is gone, whatever the cause
	Removed() <-chan struct{}
}

// Scanner discovers devices of one medium
type Scanner interface {
	Name() string

	// Subscribe registers a receiver for discovery events
	Subscribe(events ScannerEvents)

	// StartScanning begins discovery and returns without waiting for it
	StartScanning(ctx context.Context) error
	StopScanning() error
	IsScanning() bool
}

// ScannerEvents receives discovery events from scanners
type ScannerEvents interface {
	DeviceFound(device Device)
	ScanningFinished(scanner Scanner)
}

// Endpoint is a raw byte link to device hardware
type Endpoint interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}
