// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/momentics/hioload-lua/core/protocol"
)

// Config holds all event loop configuration parameters.
type Config struct {
	MaxFrameLen       int           // largest accepted wire frame, prefix included
	MaxInboundBuffer  int           // per-connection unread bytes before disconnect (0 = unbounded)
	MaxOutboundBuffer int           // per-connection unsent bytes before disconnect (0 = unbounded)
	ReadChunkSize     int           // bytes requested per read syscall
	MaxEvents         int           // readiness events handled per batch
	PollTimeout       time.Duration // negative blocks until readiness or wake
	Backlog           int           // listen(2) backlog
	DialTimeout       time.Duration // Connect timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxFrameLen:       protocol.DefaultMaxFrameLen,
		MaxInboundBuffer:  0,
		MaxOutboundBuffer: 0,
		ReadChunkSize:     64 * 1024,
		MaxEvents:         256,
		PollTimeout:       -1,
		Backlog:           1024,
		DialTimeout:       5 * time.Second,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MaxFrameLen < protocol.MinFrameLen {
		c.MaxFrameLen = d.MaxFrameLen
	}
	if c.MaxInboundBuffer < 0 {
		c.MaxInboundBuffer = 0
	}
	if c.MaxOutboundBuffer < 0 {
		c.MaxOutboundBuffer = 0
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = d.ReadChunkSize
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.Backlog <= 0 {
		c.Backlog = d.Backlog
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
}

func (c *Config) pollTimeoutMs() int {
	if c.PollTimeout < 0 {
		return -1
	}
	return int(c.PollTimeout / time.Millisecond)
}

// Role distinguishes listening sockets from connections.
type Role uint8

const (
	RoleListener Role = iota + 1
	RoleConnection
)

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// State is the socket lifecycle position.
type State uint8

const (
	StateListening State = iota + 1
	StateConnected
	StateWriteFlushing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateWriteFlushing:
		return "write_flushing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SocketInfo is a point-in-time copy of a registry entry.
type SocketInfo struct {
	Fd        int
	ID        uint32
	Role      Role
	State     State
	PeerIP    string
	PeerPort  uint16
	Port      uint16
	WebSocket bool
	Local     bool
	Unread    int
	Unsent    int
}
