// pkg/driver/scanner_base.go
package driver

import (
	"sync"
	"sync/atomic"
)

// ScannerBase implements the event half of Scanner. Scanners embed it and
// call EmitDeviceFound and FinishScanning from their discovery loops.
type ScannerBase struct {
	name     string
	scanning atomic.Bool

	mu          sync.RWMutex
	subscribers []ScannerEvents
}

// NewScannerBase creates the shared part of a scanner
func NewScannerBase(name string) *ScannerBase {
	return &ScannerBase{name: name}
}

func (s *ScannerBase) Name() string { return s.name }

// Subscribe registers events as a receiver
func (s *ScannerBase) Subscribe(events ScannerEvents) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, events)
}

func (s *ScannerBase) IsScanning() bool { return s.scanning.Load() }

// BeginScanning marks the scanner active. It returns false if it already was.
func (s *ScannerBase) BeginScanning() bool {
	return s.scanning.CompareAndSwap(false, true)
}

// EmitDeviceFound hands d to every subscriber
func (s *ScannerBase) EmitDeviceFound(d Device) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		sub.DeviceFound(d)
	}
}

// FinishScanning marks the scanner idle and tells subscribers. self is the
// embedding scanner. Repeated calls while idle do nothing.
func (s *ScannerBase) FinishScanning(self Scanner) {
	if !s.scanning.CompareAndSwap(true, false) {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		sub.ScanningFinished(self)
	}
}
