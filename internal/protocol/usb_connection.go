// internal/protocol/usb_connection.go
package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// USBConnection implements Link for USB bulk/interrupt OUT endpoints
type USBConnection struct {
	config   *USBConfig
	ctx      *gousb.Context
	device   *gousb.Device
	intf     *gousb.Interface
	done     func()
	outEndpt *gousb.OutEndpoint
	logger   *zap.Logger
	mutex    sync.RWMutex
	isOpen   bool
	stats    statsRecorder
}

// NewUSBConnection creates a new USB connection
func NewUSBConnection(config *USBConfig, logger *zap.Logger) *USBConnection {
	return &USBConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "usb"),
			zap.String("vendor_id", gousb.ID(config.VendorID).String()),
			zap.String("product_id", gousb.ID(config.ProductID).String()),
			zap.Int("bus", config.Bus),
			zap.Int("address", config.Address),
		),
	}
}

// Open claims the default interface of the configured device
func (uc *USBConnection) Open(ctx context.Context) error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if uc.isOpen {
		return nil
	}

	uc.ctx = gousb.NewContext()

	device, err := uc.findAndOpenDevice()
	if err != nil {
		uc.ctx.Close()
		return fmt.Errorf("failed to find USB device: %w", err)
	}

	if err := device.SetAutoDetach(true); err != nil {
		uc.logger.Debug("Kernel driver auto detach unavailable", zap.Error(err))
	}

	intf, done, err := device.DefaultInterface()
	if err != nil {
		device.Close()
		uc.ctx.Close()
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	outEndpt, err := intf.OutEndpoint(uc.config.Endpoint)
	if err != nil {
		done()
		device.Close()
		uc.ctx.Close()
		return fmt.Errorf("failed to get out endpoint: %w", err)
	}

	uc.device = device
	uc.intf = intf
	uc.done = done
	uc.outEndpt = outEndpt
	uc.isOpen = true
	uc.stats.connected(true)

	uc.logger.Info("USB connection opened")
	return nil
}

// Close releases the interface, device and context
func (uc *USBConnection) Close() error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen {
		return nil
	}

	if uc.done != nil {
		uc.done()
		uc.done = nil
	}
	var err error
	if uc.device != nil {
		err = uc.device.Close()
		uc.device = nil
	}
	if uc.ctx != nil {
		uc.ctx.Close()
		uc.ctx = nil
	}

	uc.intf = nil
	uc.outEndpt = nil
	uc.isOpen = false
	uc.stats.connected(false)

	if err != nil {
		return fmt.Errorf("failed to close USB device: %w", err)
	}
	uc.logger.Info("USB connection closed")
	return nil
}

// IsOpen returns whether the connection is open
func (uc *USBConnection) IsOpen() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.isOpen && uc.outEndpt != nil
}

// Write sends data to the OUT endpoint
func (uc *USBConnection) Write(ctx context.Context, data []byte) error {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen || uc.outEndpt == nil {
		return fmt.Errorf("USB connection not open")
	}

	if uc.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := uc.outEndpt.WriteContext(ctx, data)
	if err != nil {
		uc.stats.failed()
		return fmt.Errorf("failed to write to USB device: %w", err)
	}
	if n != len(data) {
		uc.stats.failed()
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	uc.stats.wrote(n, time.Since(start))
	uc.logger.Debug("USB write completed", zap.Int("bytes", n))
	return nil
}

// Transport returns the link transport name
func (uc *USBConnection) Transport() string { return "usb" }

// Stats returns a snapshot of link statistics
func (uc *USBConnection) Stats() ProtocolStats { return uc.stats.snapshot() }

// findAndOpenDevice opens the device at the configured bus and address
func (uc *USBConnection) findAndOpenDevice() (*gousb.Device, error) {
	vendorID, productID := gousb.ID(uc.config.VendorID), gousb.ID(uc.config.ProductID)

	devices, err := uc.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != vendorID || desc.Product != productID {
			return false
		}
		if uc.config.Bus != 0 && desc.Bus != uc.config.Bus {
			return false
		}
		if uc.config.Address != 0 && desc.Address != uc.config.Address {
			return false
		}
		return true
	})
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("USB device not found (VID: %s, PID: %s)", vendorID, productID)
	}

	for i := 1; i < len(devices); i++ {
		devices[i].Close()
	}
	if len(devices) > 1 {
		uc.logger.Warn("Multiple matching USB devices found, using first one")
	}
	return devices[0], nil
}
