// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/message"
	"actuator-hub/internal/service"
	"actuator-hub/internal/utils"
)

// WebSocketDeps is everything a client session needs from the server
type WebSocketDeps struct {
	Config    *config.Config
	Build     service.BuildInfo
	Router    service.MessageRouter
	Events    *service.EventBus
	LogStream *utils.LogStream
	Parser    *message.Parser
	Recorder  service.FrameRecorder
}

// WebSocketHandler serves the client protocol over WebSocket. Every
// connection gets its own session.
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	deps        WebSocketDeps
	baseLogger  *zap.Logger
	logger      *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(deps WebSocketDeps, logger *zap.Logger) *WebSocketHandler {
	if deps.Parser == nil {
		deps.Parser = message.NewParser(logger)
	}

	allowed := deps.Config.Security.AllowedOrigins
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		connections: NewConnectionManager(),
		deps:        deps,
		baseLogger:  logger,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// Connections returns the connected client registry
func (h *WebSocketHandler) Connections() *ConnectionManager {
	return h.connections
}

// HandleConnection upgrades the request and starts a protocol session
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	cfg := h.deps.Config
	session := service.NewSession(service.SessionOptions{
		Config:     &cfg.Session,
		Device:     &cfg.Device,
		Build:      h.deps.Build,
		Router:     h.deps.Router,
		Events:     h.deps.Events,
		LogStream:  h.deps.LogStream,
		Parser:     h.deps.Parser,
		Recorder:   h.deps.Recorder,
		Logger:     h.baseLogger,
		RemoteAddr: c.Request.RemoteAddr,
	})

	client := &Client{
		Session:     session,
		Connection:  conn,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	h.connections.Register(client)
	h.logger.Info("WebSocket client connected",
		zap.String("session_id", session.ID()),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead feeds incoming frames to the session. Device requests
// answer asynchronously, so reading never waits on hardware.
func (h *WebSocketHandler) handleClientRead(client *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		client.Session.Wait()
		h.disconnected(client)
		client.Connection.Close()
	}()

	cfg := h.deps.Config
	pongWait := cfg.Session.PongWait
	client.Connection.SetReadLimit(cfg.Security.MaxMessageSize)
	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("session_id", client.Session.ID()),
				)
			}
			return
		}
		client.Session.HandleFrame(ctx, frame)
	}
}

// handleClientWrite drains the session outbox onto the connection
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	cfg := h.deps.Config
	ticker := time.NewTicker(cfg.Session.PingPeriod())
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case frame := <-client.Session.Outbox():
			if err := h.write(client, websocket.TextMessage, frame); err != nil {
				h.logger.Warn("WebSocket write error",
					zap.Error(err),
					zap.String("session_id", client.Session.ID()),
				)
				return
			}

		case <-client.Session.Done():
			h.flush(client)
			_ = h.write(client, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, client.Session.CloseReason()))
			return

		case <-ticker.C:
			if err := h.write(client, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes frames queued before the session closed
func (h *WebSocketHandler) flush(client *Client) {
	for {
		select {
		case frame := <-client.Session.Outbox():
			if err := h.write(client, websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *WebSocketHandler) write(client *Client, messageType int, data []byte) error {
	client.Connection.SetWriteDeadline(time.Now().Add(h.deps.Config.Session.WriteTimeout))
	return client.Connection.WriteMessage(messageType, data)
}

// disconnected ends the session of a client whose connection went away
func (h *WebSocketHandler) disconnected(client *Client) {
	if !h.connections.Unregister(client) {
		return
	}

	session := client.Session
	wasOpen := session.State() != service.StateClosed
	session.Close("client disconnected")

	if wasOpen && h.deps.Config.Session.StopOnDisconnect {
		ctx, cancel := context.WithTimeout(context.Background(), h.deps.Config.Device.StopTimeout)
		defer cancel()
		if reply, ok := h.deps.Router.StopAllDevices(ctx, message.SystemID).(*message.Error); ok {
			h.logger.Warn("Failed to stop devices after disconnect",
				zap.String("session_id", session.ID()),
				zap.String("error", reply.ErrorMessage),
			)
		}
	}

	h.logger.Info("WebSocket client disconnected",
		zap.String("session_id", session.ID()),
		zap.String("reason", session.CloseReason()),
	)
}

// GetSessions lists connected clients
// @Summary List client sessions
// @Tags sessions
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats}
// @Router /api/v1/sessions [get]
func (h *WebSocketHandler) GetSessions(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Sessions retrieved successfully", h.connections.GetStats())
}
