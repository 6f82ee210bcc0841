// internal/utils/logstream.go
package utils

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// levelOff is above every zap level, so nothing is enabled
const levelOff = zapcore.FatalLevel + 1

// LogSink receives streamed log lines. It runs on the logging goroutine
// and must neither block nor log.
type LogSink func(level, message string)

type logSubscriber struct {
	level zapcore.Level
	sink  LogSink
}

// LogStream fans log entries out to protocol clients that asked for them
type LogStream struct {
	mu     sync.RWMutex
	subs   map[uint64]logSubscriber
	nextID uint64
	min    atomic.Int32
	enc    zapcore.Encoder
}

// NewLogStream creates an empty stream
func NewLogStream() *LogStream {
	s := &LogStream{
		subs: make(map[uint64]logSubscriber),
		enc: zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey:       "message",
			ConsoleSeparator: " ",
		}),
	}
	s.min.Store(int32(levelOff))
	return s
}

// Subscribe streams entries at level or above to sink until the returned
// function is called
func (s *LogStream) Subscribe(level zapcore.Level, sink LogSink) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = logSubscriber{level: level, sink: sink}
	s.recompute()
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.recompute()
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions
func (s *LogStream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// recompute must be called with mu held
func (s *LogStream) recompute() {
	min := levelOff
	for _, sub := range s.subs {
		if sub.level < min {
			min = sub.level
		}
	}
	s.min.Store(int32(min))
}

// Core returns a zapcore.Core feeding this stream
func (s *LogStream) Core() zapcore.Core {
	return &streamCore{stream: s}
}

func (s *LogStream) enabled(l zapcore.Level) bool {
	return l >= zapcore.Level(s.min.Load())
}

func (s *LogStream) publish(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := s.enc.Clone().EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(buf.String(), "\n")
	buf.Free()

	level := ProtocolLevelName(ent.Level)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if ent.Level >= sub.level {
			sub.sink(level, line)
		}
	}
	return nil
}

type streamCore struct {
	stream *LogStream
	fields []zapcore.Field
}

func (c *streamCore) Enabled(l zapcore.Level) bool {
	return c.stream.enabled(l)
}

func (c *streamCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &streamCore{stream: c.stream, fields: merged}
}

func (c *streamCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *streamCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := fields
	if len(c.fields) > 0 {
		all = append(append([]zapcore.Field{}, c.fields...), fields...)
	}
	return c.stream.publish(ent, all)
}

func (c *streamCore) Sync() error { return nil }

// ProtocolLevel maps a RequestLog level onto zap. ok is false for Off.
func ProtocolLevel(name string) (level zapcore.Level, ok bool) {
	switch name {
	case "Fatal":
		return zapcore.FatalLevel, true
	case "Error":
		return zapcore.ErrorLevel, true
	case "Warn":
		return zapcore.WarnLevel, true
	case "Info":
		return zapcore.InfoLevel, true
	case "Debug", "Trace":
		return zapcore.DebugLevel, true
	default:
		return levelOff, false
	}
}

// ProtocolLevelName maps a zap level onto a Log message level
func ProtocolLevelName(l zapcore.Level) string {
	switch {
	case l <= zapcore.DebugLevel:
		return "Debug"
	case l == zapcore.InfoLevel:
		return "Info"
	case l == zapcore.WarnLevel:
		return "Warn"
	case l == zapcore.ErrorLevel:
		return "Error"
	default:
		return "Fatal"
	}
}
