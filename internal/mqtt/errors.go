// internal/mqtt/errors.go
package mqtt

import "errors"

var (
	// ErrNotConnected is returned when publishing on a disconnected client
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection fails
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish is not acknowledged
	ErrPublishFailed = errors.New("mqtt: publish failed")
)
