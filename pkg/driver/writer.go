// pkg/driver/writer.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

var errSuperseded = errors.New("superseded by newer write")

type pendingWrite struct {
	cancel context.CancelCauseFunc
}

// Writer serializes writes to an Endpoint. A newer write for the same key
// cancels one still waiting, which then returns nil. After Close every
// pending and future write fails with ErrDeviceRemoved.
type Writer struct {
	endpoint Endpoint
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	pending map[string]*pendingWrite
	closed  bool

	slot chan struct{}
}

// NewWriter wraps endpoint. limiter may be nil.
func NewWriter(endpoint Endpoint, limiter *rate.Limiter) *Writer {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Writer{
		endpoint: endpoint,
		limiter:  limiter,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*pendingWrite),
		slot:     make(chan struct{}, 1),
	}
}

// Write sends data for the actuator identified by key
func (w *Writer) Write(ctx context.Context, key string, data []byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrDeviceRemoved
	}
	if prev, ok := w.pending[key]; ok {
		prev.cancel(errSuperseded)
	}
	wctx, cancel := context.WithCancelCause(ctx)
	p := &pendingWrite{cancel: cancel}
	w.pending[key] = p
	w.mu.Unlock()

	stop := context.AfterFunc(w.ctx, func() { cancel(ErrDeviceRemoved) })
	defer func() {
		stop()
		cancel(nil)
		w.mu.Lock()
		if w.pending[key] == p {
			delete(w.pending, key)
		}
		w.mu.Unlock()
	}()

	select {
	case w.slot <- struct{}{}:
	case <-wctx.Done():
		return causeOf(wctx)
	}
	defer func() { <-w.slot }()

	if w.limiter != nil {
		if err := w.limiter.Wait(wctx); err != nil {
			if wctx.Err() != nil {
				return causeOf(wctx)
			}
			return fmt.Errorf("write throttled: %w", err)
		}
	}
	if wctx.Err() != nil {
		return causeOf(wctx)
	}

	if err := w.endpoint.Write(wctx, data); err != nil {
		if wctx.Err() != nil {
			return causeOf(wctx)
		}
		return fmt.Errorf("endpoint write failed: %w", err)
	}
	return nil
}

// Close fails all pending writes and closes the endpoint
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel(ErrDeviceRemoved)
	return w.endpoint.Close()
}

func causeOf(ctx context.Context) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errSuperseded):
		return nil
	case errors.Is(cause, ErrDeviceRemoved):
		return ErrDeviceRemoved
	default:
		return cause
	}
}
