// internal/service/discovery_service.go
package service

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/device"
	"actuator-hub/internal/discovery/serial"
	"actuator-hub/internal/discovery/simulator"
	"actuator-hub/internal/discovery/usb"
	"actuator-hub/internal/discovery/virtual"
	"actuator-hub/internal/message"
	"actuator-hub/internal/utils"
	"actuator-hub/pkg/driver"
)

// SupportedDevice describes a loaded device profile
type SupportedDevice struct {
	Name      string   `json:"name"`
	Vibrators uint32   `json:"vibrators"`
	Rotators  uint32   `json:"rotators"`
	Linear    uint32   `json:"linear"`
	Media     []string `json:"media"`
	Messages  []string `json:"messages"`
}

// DiscoveryService builds the scanners enabled in configuration and
// registers them with the device manager
type DiscoveryService struct {
	manager  *DeviceManager
	config   *config.ScanningConfig
	profiles []*device.Profile
	scanners []driver.Scanner
	logger   *utils.ServiceLogger
}

// NewDiscoveryService loads the profile file and wires the scanners
func NewDiscoveryService(manager *DeviceManager, cfg *config.ScanningConfig, logger *zap.Logger) (*DiscoveryService, error) {
	var profiles []*device.Profile
	if cfg.ProfilesFile != "" && (cfg.Serial.Enabled || cfg.USB.Enabled || cfg.Virtual.Enabled) {
		loaded, err := device.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load device profiles: %w", err)
		}
		profiles = loaded
	}
	return NewDiscoveryServiceWithProfiles(manager, cfg, profiles, logger), nil
}

// NewDiscoveryServiceWithProfiles wires the scanners for already loaded profiles
func NewDiscoveryServiceWithProfiles(manager *DeviceManager, cfg *config.ScanningConfig, profiles []*device.Profile, logger *zap.Logger) *DiscoveryService {
	ds := &DiscoveryService{
		manager:  manager,
		config:   cfg,
		profiles: profiles,
		logger:   utils.NewServiceLogger(logger, "discovery-service"),
	}
	ds.initializeScanners()
	return ds
}

// initializeScanners registers every enabled scanner
func (ds *DiscoveryService) initializeScanners() {
	base := ds.logger.Logger

	if ds.config.Virtual.Enabled {
		ds.register(virtual.NewScanner(ds.profiles, base))
	}
	if ds.config.Serial.Enabled {
		ds.register(serial.NewScanner(&ds.config.Serial, ds.profiles, base))
	}
	if ds.config.USB.Enabled {
		ds.register(usb.NewScanner(&ds.config.USB, ds.profiles, base))
	}
	if ds.config.Simulator.Enabled {
		ds.register(simulator.NewScanner(&ds.config.Simulator, base))
	}

	ds.logger.Info("Discovery scanners initialized",
		zap.Strings("available_scanners", ds.manager.Scanners()),
		zap.Int("profiles", len(ds.profiles)),
	)
}

func (ds *DiscoveryService) register(s driver.Scanner) {
	ds.scanners = append(ds.scanners, s)
	ds.manager.AddScanner(s)
}

// ScannerCount returns the number of registered scanners
func (ds *DiscoveryService) ScannerCount() int {
	return len(ds.scanners)
}

// GetSupportedDevices lists the loaded profiles
func (ds *DiscoveryService) GetSupportedDevices() []SupportedDevice {
	out := make([]SupportedDevice, 0, len(ds.profiles))
	for _, p := range ds.profiles {
		out = append(out, SupportedDevice{
			Name:      p.Name,
			Vibrators: p.Vibrators,
			Rotators:  p.Rotators,
			Linear:    p.Linear,
			Media:     profileMedia(p),
			Messages:  profileMessages(p),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func profileMedia(p *device.Profile) []string {
	var media []string
	if p.Match.Virtual {
		media = append(media, "virtual")
	}
	_, _, hasUSB := p.USBIDs()
	if p.Match.SerialPort != "" || hasUSB {
		media = append(media, "serial")
	}
	if hasUSB {
		media = append(media, "usb")
	}
	return media
}

func profileMessages(p *device.Profile) []string {
	allowed := message.AllowedMessages{message.KindStopDeviceCmd: {}}
	if p.Vibrators > 0 {
		allowed[message.KindSingleMotorVibrateCmd] = message.Attributes{}
		allowed[message.KindVibrateCmd] = message.Attributes{FeatureCount: p.Vibrators}
	}
	if p.Rotators > 0 {
		allowed[message.KindRotateCmd] = message.Attributes{FeatureCount: p.Rotators}
		allowed[message.KindVorzeA10CycloneCmd] = message.Attributes{}
	}
	if p.Linear > 0 {
		allowed[message.KindLinearCmd] = message.Attributes{FeatureCount: p.Linear}
		allowed[message.KindFleshlightLaunchFW12Cmd] = message.Attributes{}
	}
	return allowed.Names()
}
