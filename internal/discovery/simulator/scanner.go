// internal/discovery/simulator/scanner.go
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/protocol"
	"actuator-hub/pkg/driver"
)

var errNotConnected = errors.New("simulator not connected")

// lineConn is a newline framed connection
type lineConn interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, data []byte) error
	ReadLine() ([]byte, error)
	Close() error
}

// Scanner talks to an external device simulator over TCP. Devices the
// simulator announces are reported as found; losing the connection
// removes all of them.
type Scanner struct {
	*driver.ScannerBase
	config *config.SimulatorScanConfig
	logger *zap.Logger
	dial   func() lineConn

	mu      sync.Mutex
	conn    lineConn
	devices map[string]*Device
}

var _ driver.Scanner = (*Scanner)(nil)

// NewScanner creates a simulator scanner. It connects on the first scan.
func NewScanner(cfg *config.SimulatorScanConfig, logger *zap.Logger) *Scanner {
	s := &Scanner{
		ScannerBase: driver.NewScannerBase("simulator"),
		config:      cfg,
		logger:      logger.With(zap.String("scanner", "simulator"), zap.String("address", cfg.Address)),
		devices:     make(map[string]*Device),
	}
	s.dial = func() lineConn {
		return protocol.NewTCPConnection(&protocol.TCPConfig{
			Address:        cfg.Address,
			ConnectTimeout: cfg.ConnectTimeout,
			WriteTimeout:   cfg.ConnectTimeout,
			KeepAlive:      true,
		}, logger)
	}
	return s
}

// StartScanning connects if needed and asks the simulator to scan
func (s *Scanner) StartScanning(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", driver.ErrScannerUnavailable, err)
	}
	if !s.BeginScanning() {
		return nil
	}
	if err := s.command(ctx, "StartScanning"); err != nil {
		s.FinishScanning(s)
		return err
	}
	s.logger.Info("Simulator scan started")
	return nil
}

// StopScanning asks the simulator to stop and finishes the scan
func (s *Scanner) StopScanning() error {
	if !s.IsScanning() {
		return nil
	}
	err := s.command(context.Background(), "StopScanning")
	s.FinishScanning(s)
	if errors.Is(err, errNotConnected) {
		return nil
	}
	return err
}

// Connected reports whether the simulator link is up
func (s *Scanner) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close drops the simulator link and removes its devices
func (s *Scanner) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Scanner) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	conn := s.dial()
	if err := conn.Open(ctx); err != nil {
		return err
	}
	s.conn = conn
	go s.readLoop(conn)
	return nil
}

func (s *Scanner) command(ctx context.Context, name string) error {
	line, err := encode(name, empty{})
	if err != nil {
		return err
	}
	return s.write(ctx, line)
}

func (s *Scanner) write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.Write(ctx, data)
}

func (s *Scanner) readLoop(conn lineConn) {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			s.connectionLost(conn, err)
			return
		}
		msg, err := decode(line)
		if err != nil {
			s.logger.Warn("Dropping simulator line", zap.ByteString("line", line), zap.Error(err))
			continue
		}
		s.handle(msg)
	}
}

func (s *Scanner) handle(msg any) {
	switch m := msg.(type) {
	case *DeviceAdded:
		s.mu.Lock()
		if existing, ok := s.devices[m.ID]; ok && !existing.IsRemoved() {
			s.mu.Unlock()
			return
		}
		dev := newDevice(s, m, s.logger)
		s.devices[m.ID] = dev
		s.mu.Unlock()

		s.logger.Info("Simulated device added", zap.String("id", m.ID), zap.String("name", m.Name))
		s.EmitDeviceFound(dev)

	case *DeviceRemoved:
		s.mu.Lock()
		dev, ok := s.devices[m.ID]
		delete(s.devices, m.ID)
		s.mu.Unlock()
		if ok {
			dev.Disconnect()
		}

	case *FinishedScanning:
		s.FinishScanning(s)
	}
}

func (s *Scanner) connectionLost(conn lineConn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	devices := s.devices
	s.devices = make(map[string]*Device)
	s.mu.Unlock()

	s.logger.Warn("Simulator connection lost", zap.Error(err), zap.Int("devices", len(devices)))
	_ = conn.Close()
	for _, d := range devices {
		d.Disconnect()
	}
	s.FinishScanning(s)
}
