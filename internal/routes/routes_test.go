package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/handler"
	"actuator-hub/internal/message"
	"actuator-hub/internal/service"
	"actuator-hub/pkg/driver"
)

const waitTimeout = 2 * time.Second

type testDevice struct {
	*driver.Base
	stops   atomic.Int32
	speed   atomic.Value
	stopErr string
}

func newTestDevice(name string) *testDevice {
	d := &testDevice{Base: driver.NewBase("test:"+name, name, nil)}
	d.AddHandler(message.KindSingleMotorVibrateCmd, message.Attributes{}, func(_ context.Context, msg message.DeviceMessage) message.Message {
		d.speed.Store(msg.(*message.SingleMotorVibrateCmd).Speed)
		return message.NewOk(msg.ID())
	})
	d.AddHandler(message.KindStopDeviceCmd, message.Attributes{}, func(_ context.Context, msg message.DeviceMessage) message.Message {
		d.stops.Add(1)
		if d.stopErr != "" {
			return message.NewError(msg.ID(), message.ErrorDevice, "%s", d.stopErr)
		}
		return message.NewOk(msg.ID())
	})
	return d
}

// testScanner finds its devices as soon as scanning starts
type testScanner struct {
	*driver.ScannerBase
	devices []driver.Device
}

func (s *testScanner) StartScanning(context.Context) error {
	if !s.BeginScanning() {
		return nil
	}
	for _, d := range s.devices {
		s.EmitDeviceFound(d)
	}
	s.FinishScanning(s)
	return nil
}

func (s *testScanner) StopScanning() error {
	s.FinishScanning(s)
	return nil
}

type harness struct {
	t       *testing.T
	manager *service.DeviceManager
	router  *Router
	server  *httptest.Server
}

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Name: "actuator-hub", Version: "1.2.3", Environment: "test"},
		Security: config.SecurityConfig{MaxMessageSize: 1 << 16},
		Session: config.SessionConfig{
			ServerName:       "Test Hub",
			SendBuffer:       16,
			WriteTimeout:     time.Second,
			PongWait:         10 * time.Second,
			StopOnDisconnect: true,
		},
		Device: config.DeviceConfig{CommandTimeout: time.Second, StopTimeout: time.Second},
	}
}

func newHarness(t *testing.T, devices ...driver.Device) *harness {
	t.Helper()
	return newHarnessWith(t, nil, devices...)
}

func newHarnessWith(t *testing.T, configure func(*Dependencies), devices ...driver.Device) *harness {
	t.Helper()
	cfg := testConfig()
	logger := zap.NewNop()

	bus := service.NewEventBus(logger)
	manager := service.NewDeviceManager(&cfg.Device, bus, logger)
	manager.AddScanner(&testScanner{ScannerBase: driver.NewScannerBase("test"), devices: devices})

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)

	deps := Dependencies{
		Manager:   manager,
		WebSocket: handler.WebSocketDeps{Events: bus, Build: service.BuildInfo{Major: 1, Minor: 2, Build: 3}},
	}
	if configure != nil {
		configure(&deps)
	}
	router := NewRouter(cfg, logger, deps)
	server := httptest.NewServer(router.SetupRouter())

	t.Cleanup(func() {
		server.Close()
		router.Sessions().CloseAll("test done")
		cancel()
		_ = manager.Shutdown(context.Background())
	})

	require.Eventually(t, manager.Running, waitTimeout, 5*time.Millisecond)
	return &harness{t: t, manager: manager, router: router, server: server}
}

func (h *harness) scan(count int) {
	h.t.Helper()
	require.Equal(h.t, http.StatusOK, h.post("/api/v1/scanning/start", "").Code)
	require.Eventually(h.t, func() bool { return h.manager.DeviceCount() == count }, waitTimeout, 5*time.Millisecond)
}

type response struct {
	Code int
	Body map[string]interface{}
}

func (h *harness) do(method, path, body string) response {
	h.t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(h.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&decoded))
	return response{Code: resp.StatusCode, Body: decoded}
}

func (h *harness) get(path string) response { return h.do(http.MethodGet, path, "") }

func (h *harness) post(path, body string) response { return h.do(http.MethodPost, path, body) }

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	resp := h.get("/health")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "healthy", resp.Body["status"])
	assert.Equal(t, "actuator-hub", resp.Body["service"])

	assert.Equal(t, http.StatusOK, h.get("/ready").Code)
	assert.Equal(t, "alive", h.get("/live").Body["status"])

	require.NoError(t, h.manager.Shutdown(context.Background()))
	require.Eventually(t, func() bool { return !h.manager.Running() }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, h.get("/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.get("/health").Code)
}

func TestDeviceEndpoints(t *testing.T) {
	dev := newTestDevice("Test Vibe")
	h := newHarness(t, dev)
	h.scan(1)

	resp := h.get("/api/v1/devices")
	require.Equal(t, http.StatusOK, resp.Code)
	data := resp.Body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["count"])
	first := data["devices"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Test Vibe", first["DeviceName"])
	assert.Equal(t, float64(1), first["DeviceIndex"])

	resp = h.post("/api/v1/devices/1/vibrate", `{"speed":0.25}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 0.25, dev.speed.Load())

	resp = h.post("/api/v1/devices/1/vibrate", `{"speed":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Body["error"].(map[string]interface{})["code"])

	assert.Equal(t, http.StatusOK, h.post("/api/v1/devices/1/stop", "").Code)
	assert.Equal(t, int32(1), dev.stops.Load())

	assert.Equal(t, http.StatusBadRequest, h.post("/api/v1/devices/abc/stop", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.post("/api/v1/devices/0/stop", "").Code)

	resp = h.post("/api/v1/devices/9/stop", "")
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "ERROR_DEVICE", resp.Body["error"].(map[string]interface{})["code"])

	assert.Equal(t, http.StatusOK, h.post("/api/v1/devices/stop", "").Code)
	assert.Equal(t, int32(2), dev.stops.Load())

	scanners := h.get("/api/v1/scanning").Body["data"].(map[string]interface{})["scanners"]
	assert.Equal(t, []interface{}{"test"}, scanners)
	assert.Equal(t, http.StatusOK, h.post("/api/v1/scanning/stop", "").Code)
}

func TestStopAllDevicesReportsFailures(t *testing.T) {
	ok := newTestDevice("Good")
	bad := newTestDevice("Bad")
	bad.stopErr = "motor jammed"
	h := newHarness(t, ok, bad)
	h.scan(2)

	resp := h.post("/api/v1/devices/stop", "")
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body["message"], "motor jammed")
	assert.Equal(t, int32(1), ok.stops.Load())
}

func TestRequestIDHeader(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/live", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "6f1c1a55-8b5e-4a53-9b43-0d6d0f3c9e11")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "6f1c1a55-8b5e-4a53-9b43-0d6d0f3c9e11", resp.Header.Get("X-Request-ID"))
}

func dial(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first frame holding the given message name
func readUntil(t *testing.T, conn *websocket.Conn, name string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	for {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		if bytes.Contains(frame, []byte(`"`+name+`"`)) {
			return string(frame)
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	dev := newTestDevice("Socket Vibe")
	h := newHarness(t, dev)
	h.scan(1)

	conn := dial(t, h)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`[{"RequestServerInfo":{"ClientName":"ws test","MessageVersion":1,"Id":1}}]`)))
	info := readUntil(t, conn, "ServerInfo")
	assert.Contains(t, info, `"ServerName":"Test Hub"`)
	assert.Contains(t, info, `"MajorVersion":1`)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`[{"RequestDeviceList":{"Id":2}},{"SingleMotorVibrateCmd":{"Speed":0.5,"DeviceIndex":1,"Id":3}}]`)))
	batch := readUntil(t, conn, "DeviceList")
	assert.Contains(t, batch, `"DeviceName":"Socket Vibe"`)
	assert.Contains(t, batch, `{"Ok":{"Id":3}}`)
	assert.Equal(t, 0.5, dev.speed.Load())

	require.Eventually(t, func() bool { return h.router.Sessions().Count() == 1 }, waitTimeout, 5*time.Millisecond)
	sessions := h.get("/api/v1/sessions").Body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), sessions["total_connections"])
	client := sessions["clients"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "ws test", client["client_name"])
	assert.Equal(t, "ready", client["state"])

	// the client goes away and every device is stopped
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.router.Sessions().Count() == 0 }, waitTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return dev.stops.Load() == 1 }, waitTimeout, 5*time.Millisecond)
}

func TestWebSocketRejectsMessagesBeforeHandshake(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[{"RequestDeviceList":{"Id":5}}]`)))
	frame := readUntil(t, conn, "Error")
	assert.Contains(t, frame, `"ErrorCode":1`)
	assert.Contains(t, frame, `"Id":5`)
}

func TestWebSocketSessionsClosedOnShutdown(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.router.Sessions().Count() == 1 }, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, 1, h.router.Sessions().CloseAll("server shutting down"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "server shutting down", closeErr.Text)
}
