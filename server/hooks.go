// File: server/hooks.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-socket callbacks chosen at listen time. Nil hooks select the built-in
// length-prefixed framing and event queueing.

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/core/concurrency"
	"github.com/momentics/hioload-lua/core/protocol"
	"github.com/momentics/hioload-lua/internal/transport"
)

// AcceptDecision is returned by an AcceptHook.
type AcceptDecision int

const (
	// AcceptRegister lets the server register the connection.
	AcceptRegister AcceptDecision = iota
	// AcceptVeto skips registration; the hook now owns the descriptor.
	AcceptVeto
)

// AcceptHook runs for every accepted descriptor of a listener.
type AcceptHook func(l Loop, listener *SocketEvent, fd int, peer transport.PeerAddr) AcceptDecision

// ReadHook runs after new bytes were appended to the socket's inbound
// buffer. A returned error closes the socket.
type ReadHook func(l Loop, se *SocketEvent) error

// EndHook runs exactly once when a socket is disposed.
type EndHook func(l Loop, se *SocketEvent, reason string)

// Hooks is the callback set of a listener. Accepted connections inherit
// Read and End.
type Hooks struct {
	Accept AcceptHook
	Read   ReadHook
	End    EndHook
}

// Loop is the handle passed to hooks. Hooks already run under the registry
// lock, so these calls must not (and do not) take it again.
type Loop interface {
	Enqueue(ev concurrency.Event)
	Send(fd int, data []byte) error
	Kick(fd int, reason string)
	Framer() protocol.Framer
	Logger() *zap.Logger
}

// DefaultRead extracts every complete frame and queues one InboundMessage
// per frame.
func DefaultRead(l Loop, se *SocketEvent) error {
	f := l.Framer()
	for {
		frame, err := f.TryExtract(se.Inbound())
		if err != nil {
			return err
		}
		if frame == nil {
			return nil
		}
		l.Enqueue(concurrency.InboundMessage{Descriptor: se.Fd(), Frame: frame})
	}
}

// DefaultEnd queues LostConnection for connections. Listeners are silent.
func DefaultEnd(l Loop, se *SocketEvent, reason string) {
	if se.Role() != RoleConnection {
		return
	}
	l.Enqueue(concurrency.LostConnection{Descriptor: se.Fd(), Reason: reason})
}

// loopHandle is the Loop implementation; every method assumes s.mu is held.
type loopHandle struct {
	s *Server
}

func (h loopHandle) Enqueue(ev concurrency.Event) {
	h.s.enqueue(ev)
}

func (h loopHandle) Send(fd int, data []byte) error {
	se := h.s.sockets[fd]
	if se == nil {
		return errNotFound(fd)
	}
	return h.s.writeLocked(se, data)
}

func (h loopHandle) Kick(fd int, reason string) {
	if se := h.s.sockets[fd]; se != nil {
		h.s.markClose(se, reason)
	}
}

func (h loopHandle) Framer() protocol.Framer {
	return protocol.NewFramer(int(h.s.maxFrame.Load()))
}

func (h loopHandle) Logger() *zap.Logger {
	return h.s.log
}
