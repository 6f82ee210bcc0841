// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"actuator-hub/pkg/driver"
)

// Prober looks for hardware of one medium. It is the strategy a
// PassScanner runs on every pass.
type Prober interface {
	// Probe returns the devices that appeared since the previous pass
	Probe(ctx context.Context) ([]driver.Device, error)
	ProberType() string
	IsAvailable() bool
}

// PassScanner adapts a Prober to driver.Scanner. A scan runs a fixed number
// of passes and then reports ScanningFinished.
type PassScanner struct {
	*driver.ScannerBase
	prober   Prober
	passes   int
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ driver.Scanner = (*PassScanner)(nil)

// NewPassScanner creates a scanner running prober passes times, interval apart
func NewPassScanner(prober Prober, passes int, interval time.Duration, logger *zap.Logger) *PassScanner {
	if passes <= 0 {
		passes = 1
	}
	return &PassScanner{
		ScannerBase: driver.NewScannerBase(prober.ProberType()),
		prober:      prober,
		passes:      passes,
		interval:    interval,
		logger:      logger.With(zap.String("scanner", prober.ProberType())),
	}
}

// StartScanning launches the pass loop. The loop outlives ctx; use
// StopScanning to end it early.
func (s *PassScanner) StartScanning(ctx context.Context) error {
	if !s.prober.IsAvailable() {
		return fmt.Errorf("%s: %w", s.Name(), driver.ErrScannerUnavailable)
	}
	if !s.BeginScanning() {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(loopCtx, done)
	return nil
}

// StopScanning cancels the pass loop. ScanningFinished follows once the
// current pass returns.
func (s *PassScanner) StopScanning() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Wait blocks until the current scan has finished
func (s *PassScanner) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *PassScanner) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		s.FinishScanning(s)
		close(done)
	}()

	start := time.Now()
	found := 0
	for pass := 1; pass <= s.passes; pass++ {
		devices, err := s.prober.Probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Warn("Probe failed", zap.Int("pass", pass), zap.Error(err))
		}
		for _, d := range devices {
			found++
			s.EmitDeviceFound(d)
		}

		if pass == s.passes {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.interval):
			continue
		}
		break
	}

	s.logger.Info("Scan completed",
		zap.Int("devices_found", found),
		zap.Duration("scan_duration", time.Since(start)),
		zap.Bool("stopped", ctx.Err() != nil),
	)
}
