// internal/capture/recorder.go
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// Direction of a captured frame
type Direction uint8

const (
	DirectionIn Direction = iota + 1
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "unknown"
	}
}

// Frame is one captured protocol frame
type Frame struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	SessionID string    `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Payload   []byte    `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture decoder mode: %v", err))
	}
}

// Recorder appends session frames to a CBOR file. It is safe for
// concurrent use.
type Recorder struct {
	file    *os.File
	encoder *cbor.Encoder
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	failed bool
}

// Open creates or appends to the capture file at path
func Open(path string, logger *zap.Logger) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create capture directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	return &Recorder{
		file:    f,
		encoder: encMode.NewEncoder(f),
		logger:  logger.With(zap.String("capture", path)),
		now:     time.Now,
	}, nil
}

// Record appends one frame. Write failures are logged once and do not
// reach the session.
func (r *Recorder) Record(sessionID string, inbound bool, frame []byte) {
	dir := DirectionOut
	if inbound {
		dir = DirectionIn
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	err := r.encoder.Encode(Frame{
		Timestamp: r.now(),
		SessionID: sessionID,
		Direction: dir,
		Payload:   append([]byte(nil), frame...),
	})
	if err != nil && !r.failed {
		r.failed = true
		r.logger.Error("Failed to write capture frame", zap.Error(err))
	}
}

// Close closes the capture file. Later Record calls are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Reader iterates the frames of a capture file
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	session string
}

// NewReader opens a capture file. A non-empty session keeps only that
// session's frames.
func NewReader(path, session string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: decMode.NewDecoder(f), session: session}, nil
}

// Next returns the next frame or io.EOF
func (r *Reader) Next() (Frame, error) {
	for {
		var frame Frame
		if err := r.decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
		if r.session == "" || frame.SessionID == r.session {
			return frame, nil
		}
	}
}

// Close closes the capture file
func (r *Reader) Close() error {
	return r.file.Close()
}
