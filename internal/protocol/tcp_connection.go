// internal/protocol/tcp_connection.go
package protocol

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxLineSize bounds a single newline-delimited frame
const maxLineSize = 64 * 1024

// TCPConnection implements Link for newline-delimited TCP streams
type TCPConnection struct {
	config *TCPConfig
	conn   net.Conn
	reader *bufio.Reader
	logger *zap.Logger
	mutex  sync.RWMutex
	wmu    sync.Mutex
	isOpen bool
	stats  statsRecorder
}

// NewTCPConnection creates a new TCP connection
func NewTCPConnection(config *TCPConfig, logger *zap.Logger) *TCPConnection {
	return &TCPConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "tcp"),
			zap.String("address", config.Address),
		),
	}
}

// Open dials the configured address
func (tc *TCPConnection) Open(ctx context.Context) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.isOpen {
		return nil
	}

	dialer := &net.Dialer{Timeout: tc.config.ConnectTimeout}
	if tc.config.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	}

	conn, err := dialer.DialContext(ctx, "tcp", tc.config.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tc.config.Address, err)
	}

	tc.conn = conn
	tc.reader = bufio.NewReaderSize(conn, 4096)
	tc.isOpen = true
	tc.stats.connected(true)

	tc.logger.Info("TCP connection opened")
	return nil
}

// Close closes the connection. A blocked ReadLine returns an error.
func (tc *TCPConnection) Close() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return nil
	}

	err := tc.conn.Close()
	tc.conn = nil
	tc.isOpen = false
	tc.stats.connected(false)

	if err != nil {
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}
	tc.logger.Info("TCP connection closed")
	return nil
}

// IsOpen returns whether the connection is open
func (tc *TCPConnection) IsOpen() bool {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.isOpen && tc.conn != nil
}

// Write writes one frame
func (tc *TCPConnection) Write(ctx context.Context, data []byte) error {
	tc.mutex.RLock()
	conn := tc.conn
	tc.mutex.RUnlock()

	if conn == nil {
		return fmt.Errorf("TCP connection not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tc.wmu.Lock()
	defer tc.wmu.Unlock()

	deadline := time.Time{}
	if tc.config.WriteTimeout > 0 {
		deadline = time.Now().Add(tc.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)

	start := time.Now()
	n, err := conn.Write(data)
	if err != nil {
		tc.stats.failed()
		return fmt.Errorf("failed to write to TCP connection: %w", err)
	}

	tc.stats.wrote(n, time.Since(start))
	return nil
}

// ReadLine blocks until one newline-terminated frame arrives. It must be
// called from a single goroutine.
func (tc *TCPConnection) ReadLine() ([]byte, error) {
	tc.mutex.RLock()
	reader := tc.reader
	tc.mutex.RUnlock()

	if reader == nil {
		return nil, fmt.Errorf("TCP connection not open")
	}

	var line []byte
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			tc.stats.failed()
			return nil, fmt.Errorf("failed to read from TCP connection: %w", err)
		}
		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return nil, fmt.Errorf("frame exceeds %d bytes", maxLineSize)
		}
		if !isPrefix {
			break
		}
	}

	tc.stats.read(len(line))
	return line, nil
}

// Transport returns the link transport name
func (tc *TCPConnection) Transport() string { return "tcp" }

// Stats returns a snapshot of link statistics
func (tc *TCPConnection) Stats() ProtocolStats { return tc.stats.snapshot() }
