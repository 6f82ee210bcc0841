package simulator

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/message"
	"actuator-hub/pkg/driver"
)

const waitTimeout = 2 * time.Second

// fakeSimulator accepts one connection and exposes its lines
type fakeSimulator struct {
	t     *testing.T
	ln    net.Listener
	conn  chan net.Conn
	lines chan string
}

func newFakeSimulator(t *testing.T) *fakeSimulator {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	f := &fakeSimulator{t: t, ln: ln, conn: make(chan net.Conn, 1), lines: make(chan string, 32)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		f.conn <- conn
		r := bufio.NewScanner(conn)
		for r.Scan() {
			f.lines <- r.Text()
		}
	}()
	return f
}

func (f *fakeSimulator) accepted() net.Conn {
	f.t.Helper()
	select {
	case c := <-f.conn:
		f.t.Cleanup(func() { c.Close() })
		f.conn <- c
		return c
	case <-time.After(waitTimeout):
		f.t.Fatal("scanner did not connect")
		return nil
	}
}

func (f *fakeSimulator) send(line string) {
	f.t.Helper()
	_, err := f.accepted().Write([]byte(line + "\n"))
	require.NoError(f.t, err)
}

func (f *fakeSimulator) next() string {
	f.t.Helper()
	select {
	case l := <-f.lines:
		return l
	case <-time.After(waitTimeout):
		f.t.Fatal("no line from scanner")
		return ""
	}
}

type events struct {
	found    chan driver.Device
	finished chan driver.Scanner
}

func newEvents() *events {
	return &events{found: make(chan driver.Device, 8), finished: make(chan driver.Scanner, 8)}
}

func (e *events) DeviceFound(d driver.Device)       { e.found <- d }
func (e *events) ScanningFinished(s driver.Scanner) { e.finished <- s }

func (e *events) nextDevice(t *testing.T) driver.Device {
	t.Helper()
	select {
	case d := <-e.found:
		return d
	case <-time.After(waitTimeout):
		t.Fatal("no device found")
		return nil
	}
}

func (e *events) waitFinished(t *testing.T) {
	t.Helper()
	select {
	case <-e.finished:
	case <-time.After(waitTimeout):
		t.Fatal("scanning did not finish")
	}
}

func newTestScanner(t *testing.T, address string) (*Scanner, *events) {
	t.Helper()
	s := NewScanner(&config.SimulatorScanConfig{Enabled: true, Address: address, ConnectTimeout: time.Second}, zap.NewNop())
	ev := newEvents()
	s.Subscribe(ev)
	t.Cleanup(func() { s.Close() })
	return s, ev
}

func TestScannerDiscoversSimulatedDevices(t *testing.T) {
	sim := newFakeSimulator(t)
	s, ev := newTestScanner(t, sim.ln.Addr().String())

	require.NoError(t, s.StartScanning(context.Background()))
	assert.True(t, s.IsScanning())
	assert.True(t, s.Connected())
	assert.Equal(t, `{"StartScanning":{}}`, sim.next())

	sim.send(`{"DeviceAdded":{"Name":"Sim Vibe","Id":"sim-1","VibratorCount":2,"HasLinear":false,"HasRotator":true}}`)
	dev := ev.nextDevice(t)
	assert.Equal(t, "simulator:sim-1", dev.Identifier())
	assert.Equal(t, "Sim Vibe", dev.Name())

	allowed := dev.AllowedMessages()
	assert.Equal(t, uint32(2), allowed[message.KindVibrateCmd].FeatureCount)
	assert.Contains(t, allowed, message.KindVorzeA10CycloneCmd)
	assert.NotContains(t, allowed, message.KindLinearCmd)

	// a duplicate announcement is ignored
	sim.send(`{"DeviceAdded":{"Name":"Sim Vibe","Id":"sim-1","VibratorCount":2}}`)
	sim.send(`{"FinishedScanning":{}}`)
	ev.waitFinished(t)
	assert.False(t, s.IsScanning())
	assert.Empty(t, ev.found)

	ctx := context.Background()
	reply := dev.ParseMessage(ctx, &message.VibrateCmd{
		Speeds: []message.VibrateSubcommand{{Index: 1, Speed: 0.5}},
		Header: message.Header{MsgID: 4},
	})
	assert.Equal(t, message.KindOk, reply.Kind())
	assert.Equal(t, `{"Vibrate":{"Id":"sim-1","Index":1,"Speed":0.5}}`, sim.next())

	reply = dev.ParseMessage(ctx, &message.VibrateCmd{
		Speeds: []message.VibrateSubcommand{{Index: 2, Speed: 0.5}},
		Header: message.Header{MsgID: 5},
	})
	class, isErr := message.IsError(reply)
	require.True(t, isErr)
	assert.Equal(t, message.ErrorDevice, class)

	reply = dev.ParseMessage(ctx, &message.VorzeA10CycloneCmd{Speed: 99, Clockwise: true, Header: message.Header{MsgID: 6}})
	assert.Equal(t, message.KindOk, reply.Kind())
	assert.Equal(t, `{"Rotate":{"Id":"sim-1","Index":0,"Speed":1,"Clockwise":true}}`, sim.next())

	reply = dev.ParseMessage(ctx, message.NewStopDeviceCmd(7, 0))
	assert.Equal(t, message.KindOk, reply.Kind())
	assert.Equal(t, `{"StopDevice":{"Id":"sim-1"}}`, sim.next())

	sim.send(`{"DeviceRemoved":{"Id":"sim-1"}}`)
	select {
	case <-dev.Removed():
	case <-time.After(waitTimeout):
		t.Fatal("device was not removed")
	}
}

func TestScannerStopScanning(t *testing.T) {
	sim := newFakeSimulator(t)
	s, ev := newTestScanner(t, sim.ln.Addr().String())

	require.NoError(t, s.StartScanning(context.Background()))
	assert.Equal(t, `{"StartScanning":{}}`, sim.next())

	require.NoError(t, s.StopScanning())
	assert.Equal(t, `{"StopScanning":{}}`, sim.next())
	ev.waitFinished(t)
	assert.False(t, s.IsScanning())
}

func TestScannerConnectionLossRemovesDevices(t *testing.T) {
	sim := newFakeSimulator(t)
	s, ev := newTestScanner(t, sim.ln.Addr().String())

	require.NoError(t, s.StartScanning(context.Background()))
	sim.next()
	sim.send(`{"DeviceAdded":{"Name":"Sim Stroker","Id":"sim-2","HasLinear":true}}`)
	dev := ev.nextDevice(t)
	assert.Contains(t, dev.AllowedMessages(), message.KindFleshlightLaunchFW12Cmd)

	require.NoError(t, sim.accepted().Close())

	select {
	case <-dev.Removed():
	case <-time.After(waitTimeout):
		t.Fatal("device survived connection loss")
	}
	ev.waitFinished(t)
	require.Eventually(t, func() bool { return !s.Connected() }, waitTimeout, 10*time.Millisecond)
}

func TestScannerUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := ln.Addr().String()
	require.NoError(t, ln.Close())

	s, _ := newTestScanner(t, address)
	err = s.StartScanning(context.Background())
	assert.ErrorIs(t, err, driver.ErrScannerUnavailable)
	assert.False(t, s.IsScanning())
}

func TestDecode(t *testing.T) {
	msg, err := decode([]byte(`{"DeviceRemoved":{"Id":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, &DeviceRemoved{ID: "x"}, msg)

	_, err = decode([]byte(`{"Bogus":{}}`))
	assert.Error(t, err)
	_, err = decode([]byte(`{"DeviceRemoved":{},"FinishedScanning":{}}`))
	assert.Error(t, err)
	_, err = decode([]byte(`[]`))
	assert.Error(t, err)
}
