package server_test

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-lua/adapters"
	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/control"
	"github.com/momentics/hioload-lua/core/protocol"
	"github.com/momentics/hioload-lua/internal/transport"
	"github.com/momentics/hioload-lua/server"
)

func TestSplitFrameAcrossReads(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	nc := h.expectConnected()
	assert.Equal(t, "127.0.0.1", nc.PeerIP)
	assert.False(t, nc.WebSocket)

	_, err := c.Write([]byte("\x00\x00\x00\x0Bhel"))
	require.NoError(t, err)
	h.expectQuiet(100 * time.Millisecond)

	_, err = c.Write([]byte("lo-w"))
	require.NoError(t, err)
	msg := h.expectMessage()
	assert.Equal(t, nc.Descriptor, msg.Descriptor)
	assert.Equal(t, "hello-w", string(protocol.Body(msg.Frame)))
	assert.Len(t, msg.Frame, 11)
	h.expectQuiet(50 * time.Millisecond)
}

func TestLongFrameAcrossReads(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	h.expectConnected()

	_, _ = c.Write([]byte("\x00\x00\x00\x0Fhello"))
	time.Sleep(20 * time.Millisecond)
	_, _ = c.Write([]byte("-world"))
	msg := h.expectMessage()
	assert.Equal(t, "hello-world", string(protocol.Body(msg.Frame)))
}

func TestTwoFramesOneWrite(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	h.expectConnected()

	wire := protocol.AppendFrame(protocol.Encode([]byte("one")), []byte("two"))
	_, err := c.Write(wire)
	require.NoError(t, err)
	assert.Equal(t, "one", string(protocol.Body(h.expectMessage().Frame)))
	assert.Equal(t, "two", string(protocol.Body(h.expectMessage().Frame)))
}

func TestPeerCloseEmitsOneLost(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	nc := h.expectConnected()

	require.NoError(t, c.Close())
	lc := h.expectLost()
	assert.Equal(t, nc.Descriptor, lc.Descriptor)
	assert.Equal(t, server.ReasonPeerClosed, lc.Reason)
	h.expectQuiet(100 * time.Millisecond)
	assert.False(t, h.srv.Exists(nc.Descriptor))
}

func TestPeerResetEmitsOneLost(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	nc := h.expectConnected()

	require.NoError(t, c.SetLinger(0))
	require.NoError(t, c.Close())
	lc := h.expectLost()
	assert.Equal(t, nc.Descriptor, lc.Descriptor)
	assert.True(t, strings.HasPrefix(lc.Reason, server.ReasonPeerClosed), "reason %q", lc.Reason)
	h.expectQuiet(100 * time.Millisecond)
}

func TestDataBeforeFinIsDelivered(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	h.expectConnected()

	_, err := c.Write(protocol.Encode([]byte("last words")))
	require.NoError(t, err)
	require.NoError(t, c.CloseWrite())

	assert.Equal(t, "last words", string(protocol.Body(h.expectMessage().Frame)))
	assert.Equal(t, server.ReasonPeerClosed, h.expectLost().Reason)
}

func TestOversizedFrameIsProtocolViolation(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.MaxFrameLen = 16
	h := start(t, cfg)
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	h.expectConnected()

	_, err := c.Write([]byte{0, 0, 0, 0x20, 'x', 'y'})
	require.NoError(t, err)
	lc := h.expectLost()
	assert.True(t, strings.HasPrefix(lc.Reason, server.ReasonProtocolPrefix), "reason %q", lc.Reason)
	h.expectQuiet(50 * time.Millisecond)
}

func TestInboundOverflow(t *testing.T) {
	h := start(t, nil, server.WithBufferLimits(8, 0))
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	h.expectConnected()

	partial := append([]byte{0, 0, 0, 100}, make([]byte, 20)...)
	_, err := c.Write(partial)
	require.NoError(t, err)
	assert.Equal(t, server.ReasonInboundOverflow, h.expectLost().Reason)
}

func TestWriteReachesPeer(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	nc := h.expectConnected()

	n, err := h.srv.Write(nc.Descriptor, protocol.Encode([]byte("pong")))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "pong", string(readFrame(t, c)))

	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = byte(i)
	}
	_, err = h.srv.Write(nc.Descriptor, protocol.Encode(big))
	require.NoError(t, err)
	assert.Equal(t, big, readFrame(t, c))

	require.Eventually(t, func() bool {
		info, ok := h.srv.Info(nc.Descriptor)
		return ok && info.State == server.StateConnected && info.Unsent == 0
	}, waitTimeout, 10*time.Millisecond)
}

func TestWriteErrors(t *testing.T) {
	h := start(t, nil)
	lfd, _ := h.listen(server.Hooks{})

	_, err := h.srv.Write(987654, []byte("x"))
	assert.True(t, errors.Is(err, api.ErrNotFound))

	_, err = h.srv.Write(lfd, []byte("x"))
	assert.ErrorIs(t, err, server.ErrNotConnection)
}

func TestScriptClose(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	nc := h.expectConnected()

	assert.True(t, h.srv.Close(nc.Descriptor, "kicked"))
	assert.False(t, h.srv.Close(nc.Descriptor, "kicked"))
	assert.Equal(t, "kicked", h.expectLost().Reason)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestListenerCloseIsSilent(t *testing.T) {
	h := start(t, nil)
	lfd, _ := h.listen(server.Hooks{})
	assert.True(t, h.srv.Close(lfd, ""))
	h.expectQuiet(50 * time.Millisecond)
	assert.Equal(t, 0, h.srv.Count())
}

func TestAcceptVeto(t *testing.T) {
	h := start(t, nil)
	vetoed := make(chan int, 1)
	_, addr := h.listen(server.Hooks{
		Accept: func(l server.Loop, ls *server.SocketEvent, fd int, peer transport.PeerAddr) server.AcceptDecision {
			transport.Close(fd)
			vetoed <- fd
			return server.AcceptVeto
		},
	})
	dial(t, addr)

	select {
	case <-vetoed:
	case <-time.After(waitTimeout):
		t.Fatal("accept hook not called")
	}
	h.expectQuiet(50 * time.Millisecond)
	assert.Equal(t, 1, h.srv.Count())
}

func TestInheritedHooks(t *testing.T) {
	h := start(t, nil)
	ended := make(chan string, 1)
	_, addr := h.listen(server.Hooks{
		Read: func(l server.Loop, se *server.SocketEvent) error {
			in := se.Inbound()
			data := append([]byte(nil), in.Bytes()...)
			in.Consume(len(data))
			return l.Send(se.Fd(), data)
		},
		End: func(l server.Loop, se *server.SocketEvent, reason string) {
			ended <- reason
		},
	})
	c := dial(t, addr)
	h.expectConnected()

	_, err := c.Write([]byte("raw echo"))
	require.NoError(t, err)
	got := make([]byte, 8)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, "raw echo", string(got))

	c.Close()
	select {
	case reason := <-ended:
		assert.Equal(t, server.ReasonPeerClosed, reason)
	case <-time.After(waitTimeout):
		t.Fatal("end hook not called")
	}
	h.expectQuiet(50 * time.Millisecond)
}

func TestReadHookPanicClosesSocket(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{
		Read: func(server.Loop, *server.SocketEvent) error { panic("bad hook") },
	})
	c := dial(t, addr)
	h.expectConnected()
	_, _ = c.Write([]byte("x"))
	assert.Contains(t, h.expectLost().Reason, "bad hook")
}

func TestConnectOutbound(t *testing.T) {
	peer, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()

	h := start(t, nil)
	port := uint16(peer.Addr().(*net.TCPAddr).Port)
	fd, err := h.srv.Connect("127.0.0.1", port, server.Hooks{})
	require.NoError(t, err)

	remote, err := peer.Accept()
	require.NoError(t, err)
	defer remote.Close()

	nc := h.expectConnected()
	assert.Equal(t, fd, nc.Descriptor)
	assert.Equal(t, port, nc.Port)
	info, ok := h.srv.Info(fd)
	require.True(t, ok)
	assert.True(t, info.Local)

	_, err = remote.Write(protocol.Encode([]byte("upstream")))
	require.NoError(t, err)
	assert.Equal(t, "upstream", string(protocol.Body(h.expectMessage().Frame)))
}

func TestListenPortRules(t *testing.T) {
	h := start(t, nil)

	fd, err := h.srv.Listen(`"127.0.0.1"`, 0, server.Hooks{})
	require.NoError(t, err)
	port, ok := h.srv.ListenerPort(fd)
	require.True(t, ok)
	assert.NotZero(t, port)

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	free := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	fd2, err := h.srv.Listen("127.0.0.1:"+strconv.Itoa(free), 0, server.Hooks{})
	require.NoError(t, err)
	port2, _ := h.srv.ListenerPort(fd2)
	assert.Equal(t, uint16(free), port2)
}

func TestShutdownClosesEverything(t *testing.T) {
	h := start(t, nil)
	_, addr := h.listen(server.Hooks{})
	dial(t, addr)
	dial(t, addr)
	h.expectConnected()
	h.expectConnected()

	h.srv.Shutdown()
	select {
	case <-h.srv.Done():
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, server.ReasonShutdown, h.expectLost().Reason)
	assert.Equal(t, server.ReasonShutdown, h.expectLost().Reason)
	h.expectQuiet(50 * time.Millisecond)
	assert.Equal(t, 0, h.srv.Count())

	_, err := h.srv.Listen("127.0.0.1", 0, server.Hooks{})
	assert.ErrorIs(t, err, server.ErrServerClosed)
}

func TestControlReloadAndMetrics(t *testing.T) {
	ctrl := adapters.NewControlAdapter()
	h := start(t, nil, server.WithControl(ctrl))
	_, addr := h.listen(server.Hooks{})
	c := dial(t, addr)
	h.expectConnected()

	_, _ = c.Write(protocol.Encode(make([]byte, 40)))
	h.expectMessage()

	require.NoError(t, ctrl.SetConfig(map[string]any{control.KeyMaxFrameLen: 16}))
	_, _ = c.Write(protocol.Encode(make([]byte, 40)))
	lc := h.expectLost()
	assert.True(t, strings.HasPrefix(lc.Reason, server.ReasonProtocolPrefix))

	stats := ctrl.Stats()
	assert.Equal(t, int64(1), stats[server.MetricAccepted])
	assert.Equal(t, int64(1), stats[server.MetricFramesIn])
	assert.Equal(t, int64(1), stats[server.MetricProtocolErrors])
	assert.Equal(t, 1, stats["debug.server.sockets"])
}
