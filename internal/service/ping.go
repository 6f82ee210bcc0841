// internal/service/ping.go
package service

import (
	"sync"
	"time"
)

// pingTimer fires once when no Ping arrived within the window
type pingTimer struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	onFire  func()
	stopped bool
}

func newPingTimer(window time.Duration, onFire func()) *pingTimer {
	return &pingTimer{window: window, onFire: onFire}
}

// Start arms the timer. A zero window disables it.
func (p *pingTimer) Start() {
	if p.window <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(p.window, p.fire)
}

// Reset restarts the window. It reports false if the timer already fired.
func (p *pingTimer) Reset() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if p.timer == nil {
		return true
	}
	return p.timer.Reset(p.window)
}

// Stop disarms the timer for good
func (p *pingTimer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *pingTimer) fire() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	p.onFire()
}
