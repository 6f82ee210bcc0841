// pkg/driver/types.go
package driver

import (
	"fmt"
	"strings"

	"actuator-hub/internal/message"
)

// ActuatorType names a family of actuators on a device
type ActuatorType string

const (
	ActuatorVibrate ActuatorType = "vibrate"
	ActuatorRotate  ActuatorType = "rotate"
	ActuatorLinear  ActuatorType = "linear"
)

// Key identifies a single actuator for write coalescing
func (a ActuatorType) Key(index uint32) string {
	return fmt.Sprintf("%s/%d", a, index)
}

// InvalidIndices returns the indices that are not below count
func InvalidIndices(count uint32, indices ...uint32) []uint32 {
	var bad []uint32
	for _, i := range indices {
		if i >= count {
			bad = append(bad, i)
		}
	}
	return bad
}

// FeatureIndexError builds the reply for commands naming features the
// device does not have
func FeatureIndexError(id uint32, device string, kind message.Kind, count uint32, bad []uint32) *message.Error {
	parts := make([]string, len(bad))
	for i, b := range bad {
		parts[i] = fmt.Sprint(b)
	}
	return message.ErrorFrom(id, message.ErrorDevice,
		fmt.Errorf("%s: %w: %s index %s, feature count %d",
			device, ErrInvalidFeatureIndex, kind, strings.Join(parts, ","), count))
}
