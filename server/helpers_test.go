package server_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-lua/core/concurrency"
	"github.com/momentics/hioload-lua/server"
)

const waitTimeout = 2 * time.Second

type harness struct {
	t      *testing.T
	srv    *server.Server
	queue  *concurrency.CommandQueue
	cancel context.CancelFunc
	buf    []concurrency.Event
}

func start(t *testing.T, cfg *server.Config, opts ...server.ServerOption) *harness {
	t.Helper()
	q := concurrency.NewCommandQueue()
	srv, err := server.New(cfg, q, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Run(ctx) }()
	h := &harness{t: t, srv: srv, queue: q, cancel: cancel}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.srv.Done():
	case <-time.After(waitTimeout):
		h.t.Error("server did not stop")
	}
}

func (h *harness) listen(hooks server.Hooks) (int, string) {
	h.t.Helper()
	fd, err := h.srv.Listen("127.0.0.1", 0, hooks)
	require.NoError(h.t, err)
	port, ok := h.srv.ListenerPort(fd)
	require.True(h.t, ok)
	return fd, net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
}

// next returns the next queued event or nil after timeout.
func (h *harness) next(timeout time.Duration) concurrency.Event {
	deadline := time.After(timeout)
	for {
		if len(h.buf) > 0 {
			ev := h.buf[0]
			h.buf = h.buf[1:]
			return ev
		}
		if evs := h.queue.DrainAll(); len(evs) > 0 {
			h.buf = append(h.buf, evs...)
			continue
		}
		select {
		case <-h.queue.Notify():
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			return nil
		}
	}
}

func (h *harness) mustNext() concurrency.Event {
	h.t.Helper()
	ev := h.next(waitTimeout)
	require.NotNil(h.t, ev, "timed out waiting for event")
	return ev
}

func (h *harness) expectConnected() concurrency.NewConnection {
	h.t.Helper()
	ev := h.mustNext()
	nc, ok := ev.(concurrency.NewConnection)
	require.True(h.t, ok, "want NewConnection, got %T", ev)
	return nc
}

func (h *harness) expectMessage() concurrency.InboundMessage {
	h.t.Helper()
	ev := h.mustNext()
	msg, ok := ev.(concurrency.InboundMessage)
	require.True(h.t, ok, "want InboundMessage, got %#v", ev)
	return msg
}

func (h *harness) expectLost() concurrency.LostConnection {
	h.t.Helper()
	ev := h.mustNext()
	lc, ok := ev.(concurrency.LostConnection)
	require.True(h.t, ok, "want LostConnection, got %#v", ev)
	return lc
}

func (h *harness) expectQuiet(d time.Duration) {
	h.t.Helper()
	if ev := h.next(d); ev != nil {
		h.t.Fatalf("unexpected event %#v", ev)
	}
}

func dial(t *testing.T, addr string) *net.TCPConn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c.(*net.TCPConn)
}

func readFrame(t *testing.T, c net.Conn) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitTimeout)))
	var hdr [4]byte
	_, err := io.ReadFull(c, hdr[:])
	require.NoError(t, err)
	body := make([]byte, binary.BigEndian.Uint32(hdr[:])-4)
	_, err = io.ReadFull(c, body)
	require.NoError(t, err)
	return body
}
