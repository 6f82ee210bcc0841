package usb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/device"
	"actuator-hub/internal/protocol"
	"actuator-hub/pkg/driver"
)

const usbProfiles = `
profiles:
  - name: Dual Vibe
    vibrators: 2
    commands:
      vibrate: "V{index}:{speed}\n"
    match:
      usb_vendor_id: "0x2341"
      usb_product_id: "8036"
  - name: Dual Vibe Clone
    vibrators: 1
    commands:
      vibrate: "V{speed}\n"
    match:
      usb_vendor_id: "2341"
      usb_product_id: "8036"
  - name: Stroker
    linear: 1
    commands:
      linear: "L{position}:{duration}\n"
    match:
      usb_vendor_id: "1a86"
      usb_product_id: "7523"
  - name: Port Only
    rotators: 1
    commands:
      rotate: "R{speed}\n"
    match:
      serial_port: "/dev/ttyS0"
`

func loadProfiles(t *testing.T) []*device.Profile {
	t.Helper()
	profiles, err := device.ParseProfiles([]byte(usbProfiles))
	require.NoError(t, err)
	return profiles
}

func TestProfileDatabase(t *testing.T) {
	db := NewProfileDatabase(loadProfiles(t))

	assert.Equal(t, 2, db.GetTotalProductCount())
	assert.True(t, db.IsKnownVendor(0x2341))
	assert.False(t, db.IsKnownVendor(0x046d))

	require.NotNil(t, db.Lookup(0x2341, 0x8036))
	assert.Equal(t, "Dual Vibe", db.Lookup(0x2341, 0x8036).Name)
	assert.Equal(t, "Stroker", db.Lookup(0x1a86, 0x7523).Name)
	assert.Nil(t, db.Lookup(0x2341, 0x0001))
}

func TestProberOpensMatchingDevices(t *testing.T) {
	p := NewProber(&config.USBScanConfig{Passes: 1, Interval: time.Millisecond, Endpoint: 1}, loadProfiles(t), zap.NewNop())
	require.True(t, p.IsAvailable())
	assert.Equal(t, "usb", p.ProberType())

	bus := []Candidate{
		{Bus: 1, Address: 4, Vendor: 0x2341, Product: 0x8036},
		{Bus: 1, Address: 9, Vendor: 0x046d, Product: 0xc52b},
		{Bus: 2, Address: 3, Vendor: 0x1a86, Product: 0x7523},
	}
	p.enumerate = func(match func(vendor, product gousb.ID) bool) ([]Candidate, error) {
		var out []Candidate
		for _, c := range bus {
			if match(c.Vendor, c.Product) {
				out = append(out, c)
			}
		}
		return out, nil
	}

	var opened []string
	p.open = func(ctx context.Context, address string) (driver.Endpoint, error) {
		opened = append(opened, address)
		if address == "2-3:1a86:7523" {
			return nil, errors.New("access denied")
		}
		link := protocol.NewMemoryConnection(address, 8, zap.NewNop())
		return link, link.Open(ctx)
	}

	devices, err := p.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "usb:1-4:2341:8036", devices[0].Identifier())
	assert.Equal(t, "Dual Vibe", devices[0].Name())
	assert.Equal(t, []string{"1-4:2341:8036", "2-3:1a86:7523"}, opened)

	again, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)

	// unplugging removes the device
	bus = bus[1:]
	_, err = p.Probe(context.Background())
	require.NoError(t, err)
	select {
	case <-devices[0].Removed():
	case <-time.After(time.Second):
		t.Fatal("unplugged device was not removed")
	}
}

func TestProberEnumerationError(t *testing.T) {
	p := NewProber(&config.USBScanConfig{Passes: 1, Interval: time.Millisecond}, loadProfiles(t), zap.NewNop())
	p.enumerate = func(func(vendor, product gousb.ID) bool) ([]Candidate, error) {
		return nil, errors.New("LIBUSB_ERROR_ACCESS")
	}
	_, err := p.Probe(context.Background())
	assert.ErrorContains(t, err, "LIBUSB_ERROR_ACCESS")
}
