// internal/protocol/protocol.go
package protocol

import (
	"context"
	"sync"
	"time"

	"actuator-hub/pkg/driver"
)

// Link is a byte connection to device hardware
type Link interface {
	driver.Endpoint

	// Connection lifecycle
	Open(ctx context.Context) error
	IsOpen() bool

	// Link information
	Transport() string
	Stats() ProtocolStats
}

// ProtocolStats provides link-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

// statsRecorder guards ProtocolStats for concurrent links
type statsRecorder struct {
	mu    sync.Mutex
	stats ProtocolStats
}

func (r *statsRecorder) connected(open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.IsConnected = open
	if open {
		r.stats.LastActivity = time.Now()
	}
}

func (r *statsRecorder) wrote(n int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.BytesWritten += int64(n)
	r.stats.OperationCount++
	r.stats.LastActivity = time.Now()
	if r.stats.AverageLatency == 0 {
		r.stats.AverageLatency = latency
	} else {
		r.stats.AverageLatency = (r.stats.AverageLatency + latency) / 2
	}
}

func (r *statsRecorder) read(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.BytesRead += int64(n)
	r.stats.LastActivity = time.Now()
}

func (r *statsRecorder) failed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.ErrorCount++
}

func (r *statsRecorder) snapshot() ProtocolStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
