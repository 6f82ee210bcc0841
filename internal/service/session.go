// internal/service/session.go
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/message"
	"actuator-hub/internal/utils"
)

// ErrSessionClosed is returned when writing to a closed session
var ErrSessionClosed = errors.New("session closed")

// maxInFlightFrames bounds the frames with device requests a session runs at once
const maxInFlightFrames = 32

// MessageRouter executes the requests a session does not answer itself
type MessageRouter interface {
	SendMessage(ctx context.Context, msg message.Message) message.Message
	StopAllDevices(ctx context.Context, id uint32) message.Message
}

// FrameRecorder receives a copy of every frame a session reads or writes
type FrameRecorder interface {
	Record(sessionID string, inbound bool, frame []byte)
}

// SessionState is the handshake state of a session
type SessionState int32

const (
	StateUnhandshaked SessionState = iota
	StateReady
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unhandshaked"
	}
}

// BuildInfo is reported to clients in ServerInfo
type BuildInfo struct {
	Major uint32
	Minor uint32
	Build uint32
}

// SessionOptions wires a session to the rest of the server
type SessionOptions struct {
	Config     *config.SessionConfig
	Device     *config.DeviceConfig
	Build      BuildInfo
	Router     MessageRouter
	Events     *EventBus
	LogStream  *utils.LogStream
	Parser     *message.Parser
	Recorder   FrameRecorder
	Logger     *zap.Logger
	RemoteAddr string
}

// SessionInfo is a snapshot of a session for the admin API
type SessionInfo struct {
	ID             string    `json:"id"`
	RemoteAddr     string    `json:"remote_addr"`
	ClientName     string    `json:"client_name,omitempty"`
	State          string    `json:"state"`
	MessageVersion uint32    `json:"message_version"`
	LogLevel       string    `json:"log_level,omitempty"`
	ConnectedAt    time.Time `json:"connected_at"`
	FramesIn       uint64    `json:"frames_in"`
	FramesOut      uint64    `json:"frames_out"`
	LogsDropped    uint64    `json:"logs_dropped"`
}

// Session is one client conversation. It answers protocol level messages,
// forwards device requests to the router and queues every outgoing frame
// on Outbox.
type Session struct {
	id          string
	opts        SessionOptions
	logger      *utils.SessionLogger
	connectedAt time.Time

	mu         sync.Mutex
	state      SessionState
	clientName string
	logLevel   string
	logCancel  func()
	evCancel   func()

	version     atomic.Uint32
	framesIn    atomic.Uint64
	framesOut   atomic.Uint64
	logsDropped atomic.Uint64

	ping      *pingTimer
	inflight  sync.WaitGroup
	slots     chan struct{}
	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeWhy  string
}

// NewSession creates a session in the unhandshaked state
func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Parser == nil {
		opts.Parser = message.NewParser(opts.Logger)
	}
	if opts.Config == nil {
		opts.Config = &config.SessionConfig{SendBuffer: 64}
	}
	buffer := opts.Config.SendBuffer
	if buffer <= 0 {
		buffer = 64
	}

	id := uuid.NewString()
	s := &Session{
		id:          id,
		opts:        opts,
		logger:      utils.NewSessionLogger(opts.Logger, id, opts.RemoteAddr),
		connectedAt: time.Now(),
		outbox:      make(chan []byte, buffer),
		slots:       make(chan struct{}, maxInFlightFrames),
		done:        make(chan struct{}),
	}
	s.ping = newPingTimer(opts.Config.MaxPingTime, s.pingTimedOut)
	return s
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Outbox carries serialized frames for the transport to write
func (s *Session) Outbox() <-chan []byte { return s.outbox }

// Done is closed when the session ends
func (s *Session) Done() <-chan struct{} { return s.done }

// CloseReason returns why the session ended
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeWhy
}

// State returns the handshake state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:             s.id,
		RemoteAddr:     s.opts.RemoteAddr,
		ClientName:     s.clientName,
		State:          s.state.String(),
		MessageVersion: s.version.Load(),
		LogLevel:       s.logLevel,
		ConnectedAt:    s.connectedAt,
		FramesIn:       s.framesIn.Load(),
		FramesOut:      s.framesOut.Load(),
		LogsDropped:    s.logsDropped.Load(),
	}
}

// HandleFrame decodes a batch and queues one reply frame holding an answer
// per element, in order. Protocol level messages are answered before it
// returns. The device requests of a frame run in order in the background,
// so a newer frame can supersede a command still in flight.
func (s *Session) HandleFrame(ctx context.Context, data []byte) {
	s.framesIn.Add(1)
	s.record(true, data)

	msgs := s.opts.Parser.Deserialize(data)
	replies := make([]message.Message, len(msgs))
	var routed []int
	for i, m := range msgs {
		if parseErr, ok := m.(*message.Error); ok {
			replies[i] = parseErr
			continue
		}
		if reply := s.answer(m); reply != nil {
			replies[i] = reply
			continue
		}
		routed = append(routed, i)
	}

	if len(routed) == 0 {
		s.reply(ctx, replies)
		return
	}

	select {
	case s.slots <- struct{}{}:
	case <-s.done:
		return
	case <-ctx.Done():
		return
	}

	s.inflight.Add(1)
	go func() {
		defer func() {
			<-s.slots
			s.inflight.Done()
		}()

		for _, i := range routed {
			replies[i] = s.opts.Router.SendMessage(ctx, msgs[i])
		}
		s.reply(ctx, replies)
	}()
}

// Wait blocks until every device request started by HandleFrame has been
// answered. It must not run concurrently with HandleFrame.
func (s *Session) Wait() {
	s.inflight.Wait()
}

func (s *Session) reply(ctx context.Context, replies []message.Message) {
	if err := s.send(ctx, replies...); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Warn("Failed to queue reply", zap.Error(err))
	}
}

// SendMessage handles one decoded client message and returns its reply
func (s *Session) SendMessage(ctx context.Context, msg message.Message) message.Message {
	if reply := s.answer(msg); reply != nil {
		return reply
	}
	return s.opts.Router.SendMessage(ctx, msg)
}

// answer replies to the messages the session handles itself. It returns nil
// for requests that go to the router.
func (s *Session) answer(msg message.Message) message.Message {
	id := msg.ID()
	kind := msg.Kind()

	if kind.Outgoing() {
		return message.NewError(id, message.ErrorMsg, "Message type %s is only sent by the server", kind)
	}
	if id == message.SystemID {
		return message.NewError(id, message.ErrorMsg, "Message Id %d is reserved for server messages", message.SystemID)
	}

	switch s.State() {
	case StateClosed:
		return message.ErrorFrom(id, message.ErrorUnknown, ErrSessionClosed)
	case StateUnhandshaked:
		switch m := msg.(type) {
		case *message.RequestServerInfo:
			return s.handshake(m)
		case *message.Test:
			return &message.Test{TestString: m.TestString, Header: message.Header{MsgID: id}}
		}
		return message.NewError(id, message.ErrorInit, "Server not initialized, send RequestServerInfo before %s", kind)
	}

	if v := s.version.Load(); kind.Version() > v {
		return message.NewError(id, message.ErrorMsg, "Message type %s requires message version %d, client negotiated %d",
			kind, kind.Version(), v)
	}

	switch m := msg.(type) {
	case *message.RequestServerInfo:
		return message.NewError(id, message.ErrorInit, "Server already initialized")
	case *message.Test:
		return &message.Test{TestString: m.TestString, Header: message.Header{MsgID: id}}
	case *message.Ping:
		if !s.ping.Reset() {
			return message.NewError(id, message.ErrorPing, "Ping timed out")
		}
		return message.NewOk(id)
	case *message.RequestLog:
		s.setLogLevel(m.LogLevel)
		return message.NewOk(id)
	}

	return nil
}

func (s *Session) handshake(m *message.RequestServerInfo) message.Message {
	if m.MessageVersion > message.CurrentVersion {
		return message.NewError(m.ID(), message.ErrorInit,
			"Client message version %d is newer than server message version %d", m.MessageVersion, message.CurrentVersion)
	}

	s.mu.Lock()
	if s.state != StateUnhandshaked {
		s.mu.Unlock()
		return message.NewError(m.ID(), message.ErrorInit, "Server already initialized")
	}
	s.state = StateReady
	s.clientName = m.ClientName
	s.version.Store(m.MessageVersion)
	s.mu.Unlock()

	s.subscribeEvents()
	s.ping.Start()
	s.logger.LogHandshake(m.ClientName, m.MessageVersion, m.MessageVersion)

	return &message.ServerInfo{
		ServerName:     s.opts.Config.ServerName,
		MessageVersion: message.CurrentVersion,
		MajorVersion:   s.opts.Build.Major,
		MinorVersion:   s.opts.Build.Minor,
		BuildVersion:   s.opts.Build.Build,
		MaxPingTime:    uint32(s.opts.Config.MaxPingTime / time.Millisecond),
		Header:         message.Header{MsgID: m.ID()},
	}
}

func (s *Session) subscribeEvents() {
	if s.opts.Events == nil {
		return
	}
	events, cancel := s.opts.Events.Subscribe("session:"+s.id, cap(s.outbox))

	s.mu.Lock()
	s.evCancel = cancel
	s.mu.Unlock()

	go func() {
		for ev := range events {
			if err := s.send(context.Background(), ev); err != nil {
				return
			}
		}
	}()
}

func (s *Session) setLogLevel(level string) {
	var cancel func()
	if zl, ok := utils.ProtocolLevel(level); ok && s.opts.LogStream != nil {
		cancel = s.opts.LogStream.Subscribe(zl, s.streamLog)
	}

	s.mu.Lock()
	previous := s.logCancel
	s.logCancel = cancel
	s.logLevel = level
	if cancel == nil {
		s.logLevel = ""
	}
	s.mu.Unlock()

	if previous != nil {
		previous()
	}
}

// streamLog runs on whichever goroutine logged. It must not log or take
// the session lock.
func (s *Session) streamLog(level, text string) {
	frame, err := s.opts.Parser.Serialize(s.version.Load(), &message.Log{LogLevel: level, LogMessage: text})
	if err != nil {
		s.logsDropped.Add(1)
		return
	}
	select {
	case <-s.done:
	case s.outbox <- frame:
		s.framesOut.Add(1)
	default:
		s.logsDropped.Add(1)
	}
}

// send serializes msgs as one frame and queues it
func (s *Session) send(ctx context.Context, msgs ...message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	frame, err := s.opts.Parser.Serialize(s.version.Load(), msgs...)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	// framesOut is raised before the frame is visible on the outbox
	s.framesOut.Add(1)
	select {
	case s.outbox <- frame:
		s.record(false, frame)
		return nil
	case <-s.done:
		s.framesOut.Add(^uint64(0))
		return ErrSessionClosed
	case <-ctx.Done():
		s.framesOut.Add(^uint64(0))
		return ctx.Err()
	}
}

func (s *Session) record(inbound bool, frame []byte) {
	if s.opts.Recorder != nil {
		s.opts.Recorder.Record(s.id, inbound, frame)
	}
}

func (s *Session) pingTimedOut() {
	s.logger.Warn("Client ping timed out, closing session",
		zap.Duration("max_ping_time", s.opts.Config.MaxPingTime))

	timeout := 2 * time.Second
	if s.opts.Device != nil && s.opts.Device.StopTimeout > 0 {
		timeout = s.opts.Device.StopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_ = s.send(ctx, message.NewError(message.SystemID, message.ErrorPing, "Ping timed out"))
	if reply := s.opts.Router.StopAllDevices(ctx, message.SystemID); reply.Kind() == message.KindError {
		s.logger.Warn("Stopping devices after ping timeout failed",
			zap.String("error", reply.(*message.Error).ErrorMessage))
	}

	s.Close("ping timeout")
}

// Close ends the session. Devices stay with the device manager.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.ping.Stop()

		s.mu.Lock()
		s.state = StateClosed
		s.closeWhy = reason
		logCancel, evCancel := s.logCancel, s.evCancel
		s.logCancel, s.evCancel = nil, nil
		s.mu.Unlock()

		if logCancel != nil {
			logCancel()
		}
		if evCancel != nil {
			evCancel()
		}
		close(s.done)
		s.logger.LogClosed(reason)
	})
}
