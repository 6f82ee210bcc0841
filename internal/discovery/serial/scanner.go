// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/device"
	"actuator-hub/internal/discovery"
	"actuator-hub/internal/protocol"
	"actuator-hub/pkg/driver"
)

// Port is an open serial link
type Port interface {
	driver.Endpoint
	Watch(onLost func(error))
}

type (
	portLister func() ([]*enumerator.PortDetails, error)
	portOpener func(ctx context.Context, cfg *protocol.SerialConfig) (Port, error)
)

// Prober matches serial ports against device profiles
type Prober struct {
	config   *config.SerialScanConfig
	profiles []*device.Profile
	tracker  *discovery.Tracker
	logger   *zap.Logger

	listPorts portLister
	open      portOpener
}

var _ discovery.Prober = (*Prober)(nil)

// NewProber creates a serial prober for the profiles that name a serial
// port or a USB id
func NewProber(cfg *config.SerialScanConfig, profiles []*device.Profile, logger *zap.Logger) *Prober {
	p := &Prober{
		config:    cfg,
		tracker:   discovery.NewTracker(),
		logger:    logger.With(zap.String("scanner", "serial")),
		listPorts: enumerator.GetDetailedPortsList,
	}
	for _, profile := range profiles {
		if profile.Match.Virtual {
			continue
		}
		if _, _, ok := profile.USBIDs(); ok || profile.Match.SerialPort != "" {
			p.profiles = append(p.profiles, profile)
		}
	}
	p.open = func(ctx context.Context, cfg *protocol.SerialConfig) (Port, error) {
		conn := protocol.NewSerialConnection(cfg, logger)
		if err := conn.Open(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}
	return p
}

// NewScanner wraps a serial prober in a pass scanner
func NewScanner(cfg *config.SerialScanConfig, profiles []*device.Profile, logger *zap.Logger) *discovery.PassScanner {
	return discovery.NewPassScanner(NewProber(cfg, profiles, logger), cfg.Passes, cfg.Interval, logger)
}

// ProberType returns scanner type
func (p *Prober) ProberType() string {
	return "serial"
}

// IsAvailable reports whether any profile can match a serial port
func (p *Prober) IsAvailable() bool {
	return len(p.profiles) > 0
}

// Probe opens every matching port that is not already in use
func (p *Prober) Probe(ctx context.Context) ([]driver.Device, error) {
	ports, err := p.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	var found []driver.Device
	for _, port := range ports {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}

		identifier := "serial:" + port.Name
		if p.tracker.Has(identifier) {
			continue
		}
		profile := p.match(port)
		if profile == nil {
			continue
		}

		baud := profile.Serial.BaudRate
		if baud == 0 {
			baud = p.config.DefaultBaudRate
		}
		link, err := p.open(ctx, protocol.NewSerialConfig(port.Name, baud, profile.Serial.Parity, p.config.ReadTimeout))
		if err != nil {
			p.logger.Warn("Failed to open matching port",
				zap.String("port", port.Name),
				zap.String("profile", profile.Name),
				zap.Error(err),
			)
			continue
		}

		dev := device.NewProtocolDevice(identifier, profile, link, p.logger)
		link.Watch(dev.Lost)
		p.tracker.Add(dev)
		found = append(found, dev)

		p.logger.Info("Serial device found",
			zap.String("port", port.Name),
			zap.String("profile", profile.Name),
			zap.Int("baud_rate", baud),
		)
	}
	return found, nil
}

// match returns the first profile accepting port. A port pattern takes
// precedence over USB ids.
func (p *Prober) match(port *enumerator.PortDetails) *device.Profile {
	for _, profile := range p.profiles {
		if pattern := profile.Match.SerialPort; pattern != "" {
			if pattern == port.Name {
				return profile
			}
			if ok, err := filepath.Match(pattern, port.Name); err == nil && ok {
				return profile
			}
			continue
		}

		if !port.IsUSB {
			continue
		}
		vendor, product, _ := profile.USBIDs()
		if hexEqual(port.VID, vendor) && hexEqual(port.PID, product) {
			return profile
		}
	}
	return nil
}

func hexEqual(s string, id uint16) bool {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	return err == nil && uint16(v) == id
}
