// internal/model/event.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"actuator-hub/internal/message"
)

// EventType represents the type of event
type EventType string

const (
	EventDeviceAdded      EventType = "DEVICE_ADDED"
	EventDeviceRemoved    EventType = "DEVICE_REMOVED"
	EventScanningFinished EventType = "SCANNING_FINISHED"
)

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONObject", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// DeviceEvent is a device manager event as stored in the journal and
// published to the bridge
type DeviceEvent struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	EventType   EventType  `json:"event_type" db:"event_type"`
	DeviceIndex *uint32    `json:"device_index,omitempty" db:"device_index"`
	DeviceName  *string    `json:"device_name,omitempty" db:"device_name"`
	Data        JSONObject `json:"data,omitempty" db:"data"`
	Timestamp   time.Time  `json:"timestamp" db:"created_at"`
	Source      string     `json:"source" db:"source"`
}

// NewDeviceEvent converts a DeviceAdded, DeviceRemoved or ScanningFinished
// message. Other messages report false.
func NewDeviceEvent(msg message.Message, source string, at time.Time) (*DeviceEvent, bool) {
	ev := &DeviceEvent{
		ID:        uuid.New(),
		Timestamp: at.UTC(),
		Source:    source,
	}

	switch m := msg.(type) {
	case *message.DeviceAdded:
		index, name := m.DeviceIndex, m.DeviceName
		ev.EventType = EventDeviceAdded
		ev.DeviceIndex = &index
		ev.DeviceName = &name
		ev.Data = JSONObject{"messages": deviceMessages(m.DeviceMessages)}
	case *message.DeviceRemoved:
		index := m.DeviceIndex
		ev.EventType = EventDeviceRemoved
		ev.DeviceIndex = &index
	case *message.ScanningFinished:
		ev.EventType = EventScanningFinished
	default:
		return nil, false
	}
	return ev, true
}

func deviceMessages(allowed message.AllowedMessages) map[string]interface{} {
	out := make(map[string]interface{}, len(allowed))
	for kind, attrs := range allowed {
		if attrs.FeatureCount > 0 {
			out[kind.String()] = map[string]interface{}{"FeatureCount": attrs.FeatureCount}
		} else {
			out[kind.String()] = map[string]interface{}{}
		}
	}
	return out
}
