package serial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/device"
	"actuator-hub/internal/protocol"
)

const serialProfiles = `
profiles:
  - name: Arduino Vibe
    vibrators: 2
    commands:
      vibrate: "V{index}:{speed}\n"
    match:
      usb_vendor_id: "2341"
      usb_product_id: "8036"
    serial:
      baud_rate: 57600
  - name: Bench Rig
    rotators: 1
    commands:
      rotate: "R{index}:{speed}:{clockwise}\n"
    match:
      serial_port: "/dev/ttyS*"
  - name: Virtual Only
    vibrators: 1
    commands:
      vibrate: "V{speed}\n"
    match:
      virtual: true
`

type fakePort struct {
	*protocol.MemoryConnection
	cfg *protocol.SerialConfig

	mu     sync.Mutex
	onLost func(error)
}

func (f *fakePort) Watch(onLost func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onLost = onLost
}

func (f *fakePort) lose(err error) {
	f.mu.Lock()
	fn := f.onLost
	f.mu.Unlock()
	fn(err)
}

type proberHarness struct {
	prober *Prober
	ports  []*enumerator.PortDetails
	opened map[string]*fakePort
	mu     sync.Mutex
}

func newProberHarness(t *testing.T) *proberHarness {
	t.Helper()
	profiles, err := device.ParseProfiles([]byte(serialProfiles))
	require.NoError(t, err)

	h := &proberHarness{opened: make(map[string]*fakePort)}
	h.prober = NewProber(&config.SerialScanConfig{
		Passes:          1,
		Interval:        time.Millisecond,
		DefaultBaudRate: 115200,
	}, profiles, zap.NewNop())

	h.prober.listPorts = func() ([]*enumerator.PortDetails, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.ports, nil
	}
	h.prober.open = func(ctx context.Context, cfg *protocol.SerialConfig) (Port, error) {
		link := protocol.NewMemoryConnection(cfg.Port, 16, zap.NewNop())
		if err := link.Open(ctx); err != nil {
			return nil, err
		}
		port := &fakePort{MemoryConnection: link, cfg: cfg}
		h.mu.Lock()
		h.opened[cfg.Port] = port
		h.mu.Unlock()
		return port, nil
	}
	return h
}

func TestProberMatchesProfiles(t *testing.T) {
	h := newProberHarness(t)
	h.ports = []*enumerator.PortDetails{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "8036"},
		{Name: "/dev/ttyACM1", IsUSB: true, VID: "2341", PID: "0043"},
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0"},
	}

	assert.True(t, h.prober.IsAvailable())
	assert.Equal(t, "serial", h.prober.ProberType())

	devices, err := h.prober.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "serial:/dev/ttyACM0", devices[0].Identifier())
	assert.Equal(t, "Arduino Vibe", devices[0].Name())
	assert.Equal(t, "serial:/dev/ttyS0", devices[1].Identifier())
	assert.Equal(t, "Bench Rig", devices[1].Name())

	assert.Equal(t, 57600, h.opened["/dev/ttyACM0"].cfg.BaudRate)
	assert.Equal(t, 115200, h.opened["/dev/ttyS0"].cfg.BaudRate)
	assert.Equal(t, "none", h.opened["/dev/ttyS0"].cfg.Parity)
}

func TestProberSkipsPortsInUse(t *testing.T) {
	h := newProberHarness(t)
	h.ports = []*enumerator.PortDetails{{Name: "/dev/ttyS1"}}

	devices, err := h.prober.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	devices2, err := h.prober.Probe(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices2)

	h.opened["/dev/ttyS1"].lose(errors.New("unplugged"))
	select {
	case <-devices[0].Removed():
	case <-time.After(time.Second):
		t.Fatal("lost port did not remove the device")
	}

	require.Eventually(t, func() bool {
		again, err := h.prober.Probe(context.Background())
		return err == nil && len(again) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestProberListError(t *testing.T) {
	h := newProberHarness(t)
	h.prober.listPorts = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("no sysfs")
	}
	_, err := h.prober.Probe(context.Background())
	assert.ErrorContains(t, err, "no sysfs")
}

func TestProberWithoutSerialProfiles(t *testing.T) {
	profiles, err := device.ParseProfiles([]byte(`
profiles:
  - name: Virtual Only
    vibrators: 1
    commands:
      vibrate: "V{speed}\n"
    match:
      virtual: true
`))
	require.NoError(t, err)

	p := NewProber(&config.SerialScanConfig{Passes: 1, Interval: time.Millisecond}, profiles, zap.NewNop())
	assert.False(t, p.IsAvailable())
}
