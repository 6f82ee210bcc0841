// internal/mqtt/topics.go
package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds bridge topic names under a prefix
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	prefix := strings.TrimSuffix(t.Prefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// Status is the retained online/offline topic
func (t Topics) Status() string { return t.join("status") }

// DeviceAdded is published when a device gets an index
func (t Topics) DeviceAdded(index uint32) string {
	return t.join("devices", fmt.Sprint(index), "added")
}

// DeviceRemoved is published when an index becomes invalid
func (t Topics) DeviceRemoved(index uint32) string {
	return t.join("devices", fmt.Sprint(index), "removed")
}

// ScanningFinished is published when every scanner has finished
func (t Topics) ScanningFinished() string { return t.join("scanning", "finished") }
