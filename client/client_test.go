package client_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-lua/client"
	"github.com/momentics/hioload-lua/codec"
	"github.com/momentics/hioload-lua/core/concurrency"
	"github.com/momentics/hioload-lua/core/protocol"
	"github.com/momentics/hioload-lua/internal/websocket"
	"github.com/momentics/hioload-lua/server"
)

// echoHooks send every complete frame straight back from the loop.
var echoHooks = server.Hooks{
	Read: func(l server.Loop, se *server.SocketEvent) error {
		for {
			frame, err := l.Framer().TryExtract(se.Inbound())
			if err != nil || frame == nil {
				return err
			}
			if err := l.Send(se.Fd(), frame); err != nil {
				return err
			}
		}
	},
}

func startServer(t *testing.T) (*server.Server, *concurrency.CommandQueue) {
	t.Helper()
	q := concurrency.NewCommandQueue()
	srv, err := server.New(nil, q)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-srv.Done()
	})
	return srv, q
}

func TestClient_TCPEcho(t *testing.T) {
	srv, _ := startServer(t)
	fd, err := srv.Listen("127.0.0.1", 0, echoHooks)
	require.NoError(t, err)
	port, _ := srv.ListenerPort(fd)

	cfg := client.DefaultConfig(fmt.Sprintf("127.0.0.1:%d", port))
	cfg.ReadTimeout = 2 * time.Second
	c, err := client.Dial(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send("hello", map[string]any{"n": 1}))
	name, payload, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hello", name)
	assert.NotNil(t, payload)

	// a frame written in two pieces still comes back whole
	wire := protocol.Encode([]byte("split-body"))
	require.NoError(t, c.SendWire(wire[:3]))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.SendWire(wire[3:]))
	body, err := c.RecvFrame()
	require.NoError(t, err)
	assert.Equal(t, "split-body", string(body))
}

func TestClient_ReplyTooLarge(t *testing.T) {
	srv, _ := startServer(t)
	fd, err := srv.Listen("127.0.0.1", 0, echoHooks)
	require.NoError(t, err)
	port, _ := srv.ListenerPort(fd)

	cfg := client.DefaultConfig(fmt.Sprintf("127.0.0.1:%d", port))
	cfg.MaxFrameLen = 16
	cfg.ReadTimeout = 2 * time.Second
	c, err := client.Dial(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SendRaw(make([]byte, 64)))
	_, err = c.RecvFrame()
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestClient_WebSocket(t *testing.T) {
	srv, q := startServer(t)
	mgr := websocket.NewManager(srv)
	fd, err := mgr.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	port, _ := srv.ListenerPort(fd)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	cfg := client.DefaultConfig(fmt.Sprintf("ws://127.0.0.1:%d%s", port, websocket.DefaultPath))
	cfg.Codec, err = codec.NewCBOR()
	require.NoError(t, err)
	cfg.ReadTimeout = 2 * time.Second
	c, err := client.Dial(cfg)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Send("ping", []any{"x"}))

	// play the script: echo the inbound frame back through the manager
	require.Eventually(t, func() bool {
		for _, ev := range q.DrainAll() {
			if msg, ok := ev.(concurrency.InboundMessage); ok {
				_, err := mgr.Write(msg.Descriptor, msg.Frame)
				return err == nil
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	name, payload, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", name)
	assert.Equal(t, []any{"x"}, payload)
}

func TestDial_Rejects(t *testing.T) {
	_, err := client.Dial(nil)
	assert.Error(t, err)
	_, err = client.Dial(&client.Config{Addr: "127.0.0.1:1", DialTimeout: time.Second})
	assert.Error(t, err)
}
