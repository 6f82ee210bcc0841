// internal/discovery/simulator/messages.go
package simulator

import (
	"encoding/json"
	"fmt"
)

// Messages exchanged with the simulator, one JSON object per line. Each
// object has a single key naming the message.

// DeviceAdded announces a simulated device
type DeviceAdded struct {
	Name          string `json:"Name"`
	ID            string `json:"Id"`
	VibratorCount uint32 `json:"VibratorCount"`
	HasLinear     bool   `json:"HasLinear"`
	HasRotator    bool   `json:"HasRotator"`
}

// DeviceRemoved withdraws a simulated device
type DeviceRemoved struct {
	ID string `json:"Id"`
}

// FinishedScanning ends a simulator scan
type FinishedScanning struct{}

type vibrate struct {
	ID    string  `json:"Id"`
	Index uint32  `json:"Index"`
	Speed float64 `json:"Speed"`
}

type rotate struct {
	ID        string  `json:"Id"`
	Index     uint32  `json:"Index"`
	Speed     float64 `json:"Speed"`
	Clockwise bool    `json:"Clockwise"`
}

type linear struct {
	ID       string  `json:"Id"`
	Index    uint32  `json:"Index"`
	Position float64 `json:"Position"`
	Duration uint32  `json:"Duration,omitempty"`
	Speed    float64 `json:"Speed,omitempty"`
}

type stopDevice struct {
	ID string `json:"Id"`
}

type empty struct{}

// encode renders one simulator line
func encode(name string, body any) ([]byte, error) {
	data, err := json.Marshal(map[string]any{name: body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return append(data, '\n'), nil
}

// decode parses one simulator line into one of the inbound message types
func decode(line []byte) (any, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, fmt.Errorf("invalid simulator line: %w", err)
	}
	if len(envelope) != 1 {
		return nil, fmt.Errorf("simulator line must hold exactly one message, got %d", len(envelope))
	}

	for name, body := range envelope {
		var msg any
		switch name {
		case "DeviceAdded":
			msg = &DeviceAdded{}
		case "DeviceRemoved":
			msg = &DeviceRemoved{}
		case "FinishedScanning":
			return &FinishedScanning{}, nil
		default:
			return nil, fmt.Errorf("unknown simulator message %s", name)
		}
		if err := json.Unmarshal(body, msg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		return msg, nil
	}
	return nil, nil
}
