// File: internal/websocket/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-process net.Listener fed by the server accept hook.

package websocket

import (
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/momentics/hioload-lua/core/protocol"
	"github.com/momentics/hioload-lua/internal/transport"
)

// peerConn is an accepted descriptor converted into a net.Conn.
type peerConn struct {
	net.Conn
	fd     int
	peer   transport.PeerAddr
	framer protocol.Framer
}

// handoff adopts an accepted descriptor. The original descriptor is always
// closed; the returned conn owns a duplicate.
func handoff(fd int, peer transport.PeerAddr) (*peerConn, error) {
	f := os.NewFile(uintptr(fd), "ws:"+peer.String())
	c, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("adopt descriptor %d: %w", fd, err)
	}
	dup, err := descriptor(c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &peerConn{Conn: c, fd: dup, peer: peer}, nil
}

func descriptor(c net.Conn) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("%T exposes no descriptor", c)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := raw.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// chanListener hands queued conns to http.Server.Serve.
type chanListener struct {
	addr  net.Addr
	conns chan *peerConn
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newChanListener(backlog int) *chanListener {
	return &chanListener{
		addr:  &net.TCPAddr{IP: net.IPv4zero},
		conns: make(chan *peerConn, backlog),
		done:  make(chan struct{}),
	}
}

// push never blocks; a full backlog or a closed listener drops the conn.
func (l *chanListener) push(c *peerConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.conns <- c:
		return true
	default:
		return false
	}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	for {
		select {
		case c := <-l.conns:
			_ = c.Close()
		default:
			return nil
		}
	}
}

func (l *chanListener) Addr() net.Addr { return l.addr }
