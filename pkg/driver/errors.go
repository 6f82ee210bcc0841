// pkg/driver/errors.go
package driver

import "errors"

var (
	ErrDeviceRemoved       = errors.New("device removed")
	ErrUnsupportedMessage  = errors.New("message not supported by device")
	ErrInvalidFeatureIndex = errors.New("feature index out of range")
	ErrScannerUnavailable  = errors.New("scanner unavailable")
)
