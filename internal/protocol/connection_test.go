package protocol

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryConnection(t *testing.T) {
	mc := NewMemoryConnection("virtual-1", 2, zap.NewNop())
	ctx := context.Background()

	require.Error(t, mc.Write(ctx, []byte("closed")))

	require.NoError(t, mc.Open(ctx))
	assert.True(t, mc.IsOpen())

	require.NoError(t, mc.Write(ctx, []byte("a")))
	require.NoError(t, mc.Write(ctx, []byte("b")))
	require.NoError(t, mc.Write(ctx, []byte("c")))

	assert.Equal(t, []string{"b", "c"}, mc.Frames())

	stats := mc.Stats()
	assert.Equal(t, int64(3), stats.BytesWritten)
	assert.Equal(t, int64(3), stats.OperationCount)
	assert.True(t, stats.IsConnected)

	require.NoError(t, mc.Close())
	assert.False(t, mc.IsOpen())
	assert.Equal(t, "memory", mc.Transport())
}

func TestTCPConnectionLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("{\"hello\":1}\nsecond\n"))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	tc := NewTCPConnection(&TCPConfig{Address: ln.Addr().String(), ConnectTimeout: time.Second}, zap.NewNop())
	require.NoError(t, tc.Open(context.Background()))
	defer tc.Close()

	line, err := tc.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, `{"hello":1}`, string(line))

	line, err = tc.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "second", string(line))

	require.NoError(t, tc.Write(context.Background(), []byte("reply\n")))
	select {
	case got := <-received:
		assert.Equal(t, "reply\n", got)
	case <-time.After(time.Second):
		t.Fatal("server did not receive frame")
	}

	assert.Equal(t, int64(6), tc.Stats().BytesWritten)
}

func TestTCPConnectionCloseUnblocksReader(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			time.Sleep(time.Second)
			conn.Close()
		}
	}()

	tc := NewTCPConnection(&TCPConfig{Address: ln.Addr().String()}, zap.NewNop())
	require.NoError(t, tc.Open(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := tc.ReadLine()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tc.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("ReadLine did not return after Close")
	}
	assert.False(t, tc.IsOpen())
}

func TestNewLink(t *testing.T) {
	logger := zap.NewNop()

	link, err := NewLink(LinkOptions{Kind: LinkSerial, Address: "/dev/ttyACM0"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "serial", link.Transport())
	serialLink := link.(*SerialConnection)
	assert.Equal(t, 9600, serialLink.config.BaudRate)
	assert.Equal(t, "none", serialLink.config.Parity)
	assert.Equal(t, 8, serialLink.config.DataBits)

	link, err = NewLink(LinkOptions{Kind: LinkUSB, Address: USBAddress(1, 7, 0x2341, 0x8036)}, logger)
	require.NoError(t, err)
	usbLink := link.(*USBConnection)
	assert.Equal(t, uint16(0x2341), usbLink.config.VendorID)
	assert.Equal(t, uint16(0x8036), usbLink.config.ProductID)
	assert.Equal(t, 1, usbLink.config.Bus)
	assert.Equal(t, 7, usbLink.config.Address)
	assert.Equal(t, 1, usbLink.config.Endpoint)

	link, err = NewLink(LinkOptions{Kind: LinkMemory, Address: "virtual"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "memory", link.Transport())

	_, err = NewLink(LinkOptions{Kind: LinkSerial}, logger)
	assert.Error(t, err)
	_, err = NewLink(LinkOptions{Kind: "bluetooth", Address: "x"}, logger)
	assert.Error(t, err)
}

func TestParseUSBAddress(t *testing.T) {
	assert.Equal(t, "3-12:046d:c52b", USBAddress(3, 12, 0x046d, 0xc52b))

	for _, bad := range []string{"", "3-12:046d", "3:046d:c52b", "x-1:046d:c52b", "1-1:zzzz:0001"} {
		_, err := ParseUSBAddress(bad)
		assert.Error(t, err, bad)
	}
}
