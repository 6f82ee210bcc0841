package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/message"
)

const discoveryProfiles = `
profiles:
  - name: Bench Vibe
    vibrators: 2
    commands:
      vibrate: "V{index}:{speed}\n"
    match:
      virtual: true
  - name: Stroker
    linear: 1
    commands:
      linear: "L{position}:{duration}\n"
    match:
      usb_vendor_id: "1a86"
      usb_product_id: "7523"
`

func writeProfiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(discoveryProfiles), 0o600))
	return path
}

func TestDiscoveryServiceRegistersEnabledScanners(t *testing.T) {
	h := newManagerHarness(t)
	cfg := &config.ScanningConfig{
		ProfilesFile: writeProfiles(t),
		Virtual:      config.VirtualScanConfig{Enabled: true},
		USB:          config.USBScanConfig{Enabled: true, Passes: 1, Interval: time.Millisecond, Endpoint: 1},
		Simulator:    config.SimulatorScanConfig{Enabled: true, Address: "127.0.0.1:1"},
	}

	ds, err := NewDiscoveryService(h.dm, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, ds.ScannerCount())
	assert.Equal(t, []string{"virtual", "usb", "simulator"}, h.dm.Scanners())

	supported := ds.GetSupportedDevices()
	require.Len(t, supported, 2)
	assert.Equal(t, "Bench Vibe", supported[0].Name)
	assert.Equal(t, []string{"virtual"}, supported[0].Media)
	assert.Equal(t, []string{"SingleMotorVibrateCmd", "StopDeviceCmd", "VibrateCmd"}, supported[0].Messages)
	assert.Equal(t, []string{"serial", "usb"}, supported[1].Media)
}

func TestDiscoveryServiceVirtualDevicesReachManager(t *testing.T) {
	h := newManagerHarness(t)
	ds, err := NewDiscoveryService(h.dm, &config.ScanningConfig{
		ProfilesFile: writeProfiles(t),
		Virtual:      config.VirtualScanConfig{Enabled: true},
	}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, ds.ScannerCount())

	require.NoError(t, h.dm.StartScanning(context.Background()))
	added := h.expectAdded("Bench Vibe")
	assert.Equal(t, uint32(1), added.DeviceIndex)
	assert.Equal(t, message.KindScanningFinished, h.next().Kind())
}

func TestDiscoveryServiceMissingProfiles(t *testing.T) {
	h := newManagerHarness(t)
	_, err := NewDiscoveryService(h.dm, &config.ScanningConfig{
		ProfilesFile: filepath.Join(t.TempDir(), "missing.yaml"),
		Serial:       config.SerialScanConfig{Enabled: true, Passes: 1, Interval: time.Millisecond},
	}, zap.NewNop())
	assert.Error(t, err)

	ds, err := NewDiscoveryService(h.dm, &config.ScanningConfig{ProfilesFile: "unused.yaml"}, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, ds.ScannerCount())
	assert.Empty(t, ds.GetSupportedDevices())
}
