// internal/discovery/tracker.go
package discovery

import (
	"sync"

	"actuator-hub/pkg/driver"
)

// Tracker remembers the devices a prober handed out until they are
// removed, so later passes skip hardware that is already in use.
type Tracker struct {
	mu      sync.Mutex
	devices map[string]driver.Device
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{devices: make(map[string]driver.Device)}
}

// Has reports whether a live device owns identifier
func (t *Tracker) Has(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.devices[identifier]
	return ok
}

// Add tracks d until its Removed channel closes
func (t *Tracker) Add(d driver.Device) {
	id := d.Identifier()

	t.mu.Lock()
	t.devices[id] = d
	t.mu.Unlock()

	go func() {
		<-d.Removed()
		t.mu.Lock()
		if t.devices[id] == d {
			delete(t.devices, id)
		}
		t.mu.Unlock()
	}()
}

// Len returns the number of live devices
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.devices)
}

// Missing returns the tracked devices whose identifier is not in present
func (t *Tracker) Missing(present map[string]bool) []driver.Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	var gone []driver.Device
	for id, d := range t.devices {
		if !present[id] {
			gone = append(gone, d)
		}
	}
	return gone
}
