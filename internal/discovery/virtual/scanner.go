// internal/discovery/virtual/scanner.go
package virtual

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"actuator-hub/internal/device"
	"actuator-hub/internal/discovery"
	"actuator-hub/internal/protocol"
	"actuator-hub/pkg/driver"
)

// frameLimit is how many frames each virtual link keeps
const frameLimit = 256

// Prober creates one device per virtual profile. The devices write to
// memory links, which makes their traffic observable.
type Prober struct {
	profiles []*device.Profile
	tracker  *discovery.Tracker
	logger   *zap.Logger

	mu    sync.Mutex
	links map[string]*protocol.MemoryConnection
}

var _ discovery.Prober = (*Prober)(nil)

// NewProber creates a prober for the profiles marked virtual
func NewProber(profiles []*device.Profile, logger *zap.Logger) *Prober {
	p := &Prober{
		tracker: discovery.NewTracker(),
		logger:  logger.With(zap.String("scanner", "virtual")),
		links:   make(map[string]*protocol.MemoryConnection),
	}
	for _, profile := range profiles {
		if profile.Match.Virtual {
			p.profiles = append(p.profiles, profile)
		}
	}
	return p
}

// NewScanner wraps a virtual prober in a single pass scanner
func NewScanner(profiles []*device.Profile, logger *zap.Logger) *discovery.PassScanner {
	return discovery.NewPassScanner(NewProber(profiles, logger), 1, 0, logger)
}

// ProberType returns scanner type
func (p *Prober) ProberType() string {
	return "virtual"
}

// IsAvailable reports whether any virtual profile exists
func (p *Prober) IsAvailable() bool {
	return len(p.profiles) > 0
}

// Probe creates the virtual devices that are not currently live
func (p *Prober) Probe(ctx context.Context) ([]driver.Device, error) {
	var found []driver.Device
	for _, profile := range p.profiles {
		identifier := "virtual:" + profile.Name
		if p.tracker.Has(identifier) {
			continue
		}

		link := protocol.NewMemoryConnection(profile.Name, frameLimit, p.logger)
		if err := link.Open(ctx); err != nil {
			return found, err
		}
		p.mu.Lock()
		p.links[profile.Name] = link
		p.mu.Unlock()

		dev := device.NewProtocolDevice(identifier, profile, link, p.logger)
		p.tracker.Add(dev)
		found = append(found, dev)
	}
	return found, nil
}

// Frames returns the frames last written to the named virtual device
func (p *Prober) Frames(name string) []string {
	p.mu.Lock()
	link, ok := p.links[name]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return link.Frames()
}
