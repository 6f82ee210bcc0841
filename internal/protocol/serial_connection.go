// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialConnection implements Link for serial ports
type SerialConnection struct {
	config *SerialConfig
	port   serial.Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	stats  statsRecorder
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(config *SerialConfig, logger *zap.Logger) *SerialConnection {
	return &SerialConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
}

// Open opens the serial port
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: sc.config.BaudRate,
		DataBits: sc.config.DataBits,
		StopBits: serial.OneStopBit,
	}
	if sc.config.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch sc.config.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	port, err := serial.Open(sc.config.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	if sc.config.Timeout > 0 {
		if err := port.SetReadTimeout(sc.config.Timeout); err != nil {
			port.Close()
			return fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	sc.port = port
	sc.isOpen = true
	sc.stats.connected(true)

	sc.logger.Info("Serial port opened", zap.Int("baud_rate", sc.config.BaudRate))
	return nil
}

// Close closes the serial port
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.isOpen = false
	sc.stats.connected(false)

	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	sc.logger.Info("Serial port closed")
	return nil
}

// IsOpen returns whether the port is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Write writes data to the serial port
func (sc *SerialConnection) Write(ctx context.Context, data []byte) error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return fmt.Errorf("serial port not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	n, err := sc.port.Write(data)
	if err != nil {
		sc.stats.failed()
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		sc.stats.failed()
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.stats.wrote(n, time.Since(start))
	sc.logger.Debug("Serial write completed", zap.Int("bytes", n))
	return nil
}

// Watch drains device output until the port fails or is closed, then
// calls onLost with the read error. Timeouts are not failures.
func (sc *SerialConnection) Watch(onLost func(error)) {
	sc.mutex.RLock()
	port := sc.port
	sc.mutex.RUnlock()
	if port == nil {
		return
	}

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := port.Read(buf)
			if err != nil {
				var portErr *serial.PortError
				if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
					return
				}
				sc.stats.failed()
				onLost(fmt.Errorf("serial read failed: %w", err))
				return
			}
			if n > 0 {
				sc.stats.read(n)
				sc.logger.Debug("Serial device output", zap.ByteString("data", buf[:n]))
			}
			if !sc.IsOpen() {
				return
			}
		}
	}()
}

// Transport returns the link transport name
func (sc *SerialConnection) Transport() string { return "serial" }

// Stats returns a snapshot of link statistics
func (sc *SerialConnection) Stats() ProtocolStats { return sc.stats.snapshot() }
