// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Link kinds understood by NewLink
const (
	LinkSerial = "serial"
	LinkUSB    = "usb"
	LinkTCP    = "tcp"
	LinkMemory = "memory"
)

// LinkOptions describes a link in transport neutral terms. Fields that do
// not apply to the chosen kind are ignored.
type LinkOptions struct {
	Kind     string
	Address  string
	BaudRate int
	Parity   string
	Endpoint int
	Timeout  time.Duration
}

// NewLink creates an unopened link for opts
func NewLink(opts LinkOptions, logger *zap.Logger) (Link, error) {
	switch opts.Kind {
	case LinkSerial:
		if opts.Address == "" {
			return nil, fmt.Errorf("serial port is required")
		}
		return NewSerialConnection(NewSerialConfig(opts.Address, opts.BaudRate, opts.Parity, opts.Timeout), logger), nil
	case LinkUSB:
		cfg, err := ParseUSBAddress(opts.Address)
		if err != nil {
			return nil, err
		}
		cfg.Endpoint = opts.Endpoint
		if cfg.Endpoint == 0 {
			cfg.Endpoint = 1
		}
		cfg.Timeout = opts.Timeout
		return NewUSBConnection(cfg, logger), nil
	case LinkTCP:
		if opts.Address == "" {
			return nil, fmt.Errorf("TCP address is required")
		}
		return NewTCPConnection(&TCPConfig{
			Address:        opts.Address,
			ConnectTimeout: opts.Timeout,
			WriteTimeout:   opts.Timeout,
			KeepAlive:      true,
		}, logger), nil
	case LinkMemory:
		return NewMemoryConnection(opts.Address, 0, logger), nil
	default:
		return nil, fmt.Errorf("unsupported link type: %s", opts.Kind)
	}
}

// NewSerialConfig returns an 8 data bit, 1 stop bit configuration
func NewSerialConfig(port string, baudRate int, parity string, timeout time.Duration) *SerialConfig {
	if baudRate <= 0 {
		baudRate = 9600
	}
	if parity == "" {
		parity = "none"
	}
	return &SerialConfig{
		Port:     port,
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   parity,
		Timeout:  timeout,
	}
}

// USBAddress formats the identity of a USB device as bus-address:vid:pid
func USBAddress(bus, address int, vendor, product uint16) string {
	return fmt.Sprintf("%d-%d:%04x:%04x", bus, address, vendor, product)
}

// ParseUSBAddress is the inverse of USBAddress
func ParseUSBAddress(s string) (*USBConfig, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid USB address %q", s)
	}
	location := strings.SplitN(parts[0], "-", 2)
	if len(location) != 2 {
		return nil, fmt.Errorf("invalid USB location %q", parts[0])
	}

	bus, err := strconv.Atoi(location[0])
	if err != nil {
		return nil, fmt.Errorf("invalid USB bus: %w", err)
	}
	address, err := strconv.Atoi(location[1])
	if err != nil {
		return nil, fmt.Errorf("invalid USB device address: %w", err)
	}
	vendor, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid USB vendor id: %w", err)
	}
	product, err := strconv.ParseUint(parts[2], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid USB product id: %w", err)
	}

	return &USBConfig{
		VendorID:  uint16(vendor),
		ProductID: uint16(product),
		Bus:       bus,
		Address:   address,
	}, nil
}
