// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/device"
	"actuator-hub/internal/discovery"
	"actuator-hub/internal/protocol"
	"actuator-hub/pkg/driver"
)

// Candidate is a USB device whose ids matched a profile
type Candidate struct {
	Bus     int
	Address int
	Vendor  gousb.ID
	Product gousb.ID
}

func (c Candidate) address() string {
	return protocol.USBAddress(c.Bus, c.Address, uint16(c.Vendor), uint16(c.Product))
}

func (c Candidate) identifier() string { return "usb:" + c.address() }

type (
	enumerateFunc func(match func(vendor, product gousb.ID) bool) ([]Candidate, error)
	openFunc      func(ctx context.Context, address string) (driver.Endpoint, error)
)

// Prober finds USB devices listed in the profile database
type Prober struct {
	config      *config.USBScanConfig
	knownDevice *ProfileDatabase
	tracker     *discovery.Tracker
	logger      *zap.Logger

	enumerate enumerateFunc
	open      openFunc
}

var _ discovery.Prober = (*Prober)(nil)

// NewProber creates a USB prober for the profiles that declare USB ids
func NewProber(cfg *config.USBScanConfig, profiles []*device.Profile, logger *zap.Logger) *Prober {
	p := &Prober{
		config:      cfg,
		knownDevice: NewProfileDatabase(profiles),
		tracker:     discovery.NewTracker(),
		logger:      logger.With(zap.String("scanner", "usb")),
		enumerate:   enumerateDevices,
	}
	p.open = func(ctx context.Context, address string) (driver.Endpoint, error) {
		link, err := protocol.NewLink(protocol.LinkOptions{
			Kind:     protocol.LinkUSB,
			Address:  address,
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := link.Open(ctx); err != nil {
			return nil, err
		}
		return link, nil
	}
	return p
}

// NewScanner wraps a USB prober in a pass scanner
func NewScanner(cfg *config.USBScanConfig, profiles []*device.Profile, logger *zap.Logger) *discovery.PassScanner {
	return discovery.NewPassScanner(NewProber(cfg, profiles, logger), cfg.Passes, cfg.Interval, logger)
}

// ProberType returns scanner type identifier
func (p *Prober) ProberType() string {
	return "usb"
}

// IsAvailable reports whether any profile declares USB ids
func (p *Prober) IsAvailable() bool {
	return p.knownDevice.GetTotalProductCount() > 0
}

// Probe opens every matching device that is not already in use
func (p *Prober) Probe(ctx context.Context) ([]driver.Device, error) {
	candidates, err := p.enumerate(func(vendor, product gousb.ID) bool {
		return p.knownDevice.Lookup(vendor, product) != nil
	})
	if err != nil {
		return nil, fmt.Errorf("device enumeration failed: %w", err)
	}

	present := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		present[c.identifier()] = true
	}
	for _, gone := range p.tracker.Missing(present) {
		p.logger.Info("USB device unplugged", zap.String("identifier", gone.Identifier()))
		gone.Disconnect()
	}

	var found []driver.Device
	for _, c := range candidates {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}

		address := c.address()
		identifier := c.identifier()
		if p.tracker.Has(identifier) {
			continue
		}
		profile := p.knownDevice.Lookup(c.Vendor, c.Product)

		link, err := p.open(ctx, address)
		if err != nil {
			p.logger.Warn("Failed to open matching USB device",
				zap.String("address", address),
				zap.String("profile", profile.Name),
				zap.Error(err),
			)
			continue
		}

		dev := device.NewProtocolDevice(identifier, profile, link, p.logger)
		p.tracker.Add(dev)
		found = append(found, dev)

		p.logger.Info("USB device found",
			zap.String("vendor_id", c.Vendor.String()),
			zap.String("product_id", c.Product.String()),
			zap.String("profile", profile.Name),
		)
	}
	return found, nil
}

// enumerateDevices walks the bus without opening anything
func enumerateDevices(match func(vendor, product gousb.ID) bool) ([]Candidate, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	var found []Candidate
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if match(desc.Vendor, desc.Product) {
			found = append(found, Candidate{
				Bus:     desc.Bus,
				Address: desc.Address,
				Vendor:  desc.Vendor,
				Product: desc.Product,
			})
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	return found, nil
}
