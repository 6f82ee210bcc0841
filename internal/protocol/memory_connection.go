// internal/protocol/memory_connection.go
package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryConnection is a Link with no hardware behind it. It records every
// frame, which makes virtual devices observable.
type MemoryConnection struct {
	name   string
	logger *zap.Logger

	mutex  sync.Mutex
	isOpen bool
	frames [][]byte
	limit  int
	stats  statsRecorder
}

// NewMemoryConnection creates a memory link keeping at most limit frames
func NewMemoryConnection(name string, limit int, logger *zap.Logger) *MemoryConnection {
	if limit <= 0 {
		limit = 256
	}
	return &MemoryConnection{
		name:   name,
		limit:  limit,
		logger: logger.With(zap.String("protocol", "memory"), zap.String("link", name)),
	}
}

func (mc *MemoryConnection) Open(ctx context.Context) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.isOpen = true
	mc.stats.connected(true)
	return nil
}

func (mc *MemoryConnection) Close() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.isOpen = false
	mc.stats.connected(false)
	return nil
}

func (mc *MemoryConnection) IsOpen() bool {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return mc.isOpen
}

// Write records data
func (mc *MemoryConnection) Write(ctx context.Context, data []byte) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.isOpen {
		return fmt.Errorf("memory link %s not open", mc.name)
	}
	frame := append([]byte(nil), data...)
	mc.frames = append(mc.frames, frame)
	if len(mc.frames) > mc.limit {
		mc.frames = mc.frames[len(mc.frames)-mc.limit:]
	}
	mc.stats.wrote(len(data), time.Duration(0))
	mc.logger.Debug("Memory link write", zap.ByteString("data", data))
	return nil
}

// Frames returns the recorded frames, oldest first
func (mc *MemoryConnection) Frames() []string {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	out := make([]string, len(mc.frames))
	for i, f := range mc.frames {
		out[i] = string(f)
	}
	return out
}

func (mc *MemoryConnection) Transport() string    { return "memory" }
func (mc *MemoryConnection) Stats() ProtocolStats { return mc.stats.snapshot() }
