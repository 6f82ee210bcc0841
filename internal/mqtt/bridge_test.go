package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/message"
	"actuator-hub/internal/service"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, payload []byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, payload, retained})
	return nil
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "hub/"}
	assert.Equal(t, "hub/status", topics.Status())
	assert.Equal(t, "hub/devices/3/added", topics.DeviceAdded(3))
	assert.Equal(t, "hub/devices/3/removed", topics.DeviceRemoved(3))
	assert.Equal(t, "hub/scanning/finished", topics.ScanningFinished())
	assert.Equal(t, "status", Topics{}.Status())
}

func TestBridgePublishesEvents(t *testing.T) {
	bus := service.NewEventBus(zap.NewNop())
	pub := &fakePublisher{}
	bridge := NewBridge(pub, "actuator-hub", "hub-1", zap.NewNop())
	stamp := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	bridge.now = func() time.Time { return stamp }

	bridge.Start(bus)
	bus.Publish(&message.DeviceAdded{DeviceMessageInfo: message.DeviceMessageInfo{
		DeviceName:     "Vibe",
		DeviceIndex:    2,
		DeviceMessages: message.AllowedMessages{message.KindStopDeviceCmd: {}},
	}})
	bus.Publish(&message.DeviceRemoved{DeviceIndex: 2})
	bus.Publish(message.NewOk(9))
	bus.Publish(&message.ScanningFinished{})
	bridge.Stop()
	bridge.Stop()

	require.Len(t, pub.msgs, 3)
	assert.Equal(t, "actuator-hub/devices/2/added", pub.msgs[0].topic)
	assert.Equal(t, "actuator-hub/devices/2/removed", pub.msgs[1].topic)
	assert.Equal(t, "actuator-hub/scanning/finished", pub.msgs[2].topic)
	assert.False(t, pub.msgs[0].retained)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &payload))
	assert.Equal(t, "DEVICE_ADDED", payload["event_type"])
	assert.Equal(t, "Vibe", payload["device_name"])
	assert.Equal(t, float64(2), payload["device_index"])
	assert.Equal(t, "hub-1", payload["source"])
	assert.Equal(t, "2024-06-01T08:00:00Z", payload["timestamp"])
}

func TestBridgeKeepsRunningWhenPublishFails(t *testing.T) {
	bus := service.NewEventBus(zap.NewNop())
	pub := &fakePublisher{err: errors.New("broker gone")}
	bridge := NewBridge(pub, "hub", "hub-1", zap.NewNop())

	bridge.Start(bus)
	bus.Publish(&message.ScanningFinished{})
	bus.Publish(&message.ScanningFinished{})
	bridge.Stop()

	assert.Empty(t, pub.msgs)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(&config.MQTTConfig{
		Broker:      "tcp://broker.local:1883",
		ClientID:    "hub-1",
		Username:    "user",
		Password:    "secret",
		TopicPrefix: "hub",
		QoS:         1,
	})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker.local:1883", opts.Servers[0].Host)
	assert.Equal(t, "hub-1", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, defaultConnectTimeout, opts.ConnectTimeout)

	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "hub/status", opts.WillTopic)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, byte(1), opts.WillQos)

	var status StatusPayload
	require.NoError(t, json.Unmarshal(opts.WillPayload, &status))
	assert.Equal(t, "offline", status.Status)
	assert.Equal(t, "unexpected_disconnect", status.Reason)
}
