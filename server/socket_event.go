// File: server/socket_event.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SocketEvent is the registry entry for one live descriptor. It is owned by
// the Server and only touched with the registry lock held.

package server

import (
	"fmt"

	"github.com/momentics/hioload-lua/core/buffer"
	"github.com/momentics/hioload-lua/internal/transport"
)

// SocketEvent couples a descriptor with its buffers, flags and hooks.
type SocketEvent struct {
	fd    int
	id    uint32
	role  Role
	state State
	peer  transport.PeerAddr
	port  uint16

	in  *buffer.FrameBuffer
	out *buffer.FrameBuffer

	websocket bool
	local     bool
	driven    bool

	hooks Hooks

	closing     bool
	closeReason string
}

func newListener(fd int, port uint16, hooks Hooks) *SocketEvent {
	return &SocketEvent{
		fd:     fd,
		role:   RoleListener,
		state:  StateListening,
		port:   port,
		driven: true,
		hooks:  hooks,
	}
}

func newConnection(fd int, id uint32, peer transport.PeerAddr, port uint16, hooks Hooks, local bool) *SocketEvent {
	return &SocketEvent{
		fd:     fd,
		id:     id,
		role:   RoleConnection,
		state:  StateConnected,
		peer:   peer,
		port:   port,
		in:     buffer.NewFrameBuffer(buffer.DefaultCapacity),
		out:    buffer.NewFrameBuffer(buffer.DefaultCapacity),
		local:  local,
		driven: true,
		hooks:  hooks,
	}
}

func (se *SocketEvent) Fd() int                  { return se.fd }
func (se *SocketEvent) ID() uint32               { return se.id }
func (se *SocketEvent) Role() Role               { return se.role }
func (se *SocketEvent) State() State             { return se.state }
func (se *SocketEvent) Peer() transport.PeerAddr { return se.peer }

// Port is the owning listener's bound port (for a listener, its own).
func (se *SocketEvent) Port() uint16 { return se.port }

// Inbound holds received bytes not yet consumed by the read hook.
// Nil for listeners.
func (se *SocketEvent) Inbound() *buffer.FrameBuffer { return se.in }

// Outbound holds bytes queued for the peer. Nil for listeners.
func (se *SocketEvent) Outbound() *buffer.FrameBuffer { return se.out }

func (se *SocketEvent) WebSocket() bool { return se.websocket }
func (se *SocketEvent) Local() bool     { return se.local }
func (se *SocketEvent) Driven() bool    { return se.driven }

// Closing reports that a close has been scheduled.
func (se *SocketEvent) Closing() bool { return se.closing }

func (se *SocketEvent) info() SocketInfo {
	si := SocketInfo{
		Fd:        se.fd,
		ID:        se.id,
		Role:      se.role,
		State:     se.state,
		PeerIP:    se.peer.IP,
		PeerPort:  se.peer.Port,
		Port:      se.port,
		WebSocket: se.websocket,
		Local:     se.local,
	}
	if se.in != nil {
		si.Unread = se.in.Len()
	}
	if se.out != nil {
		si.Unsent = se.out.Len()
	}
	return si
}

func (se *SocketEvent) String() string {
	if se.role == RoleListener {
		return fmt.Sprintf("listener(fd=%d port=%d)", se.fd, se.port)
	}
	return fmt.Sprintf("conn(fd=%d id=%d peer=%s)", se.fd, se.id, se.peer)
}
