// File: script/router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package script

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/server"
)

// Conn is a destination for script-initiated writes and closes.
type Conn interface {
	Write(fd int, data []byte) (int, error)
	Close(fd int, reason string) bool
}

// WebSocketEndpoint is a collaborator owning WebSocket connections.
type WebSocketEndpoint interface {
	Conn
	Listen(host string, port uint16) (int, error)
}

// Router sends to the plain-socket server first and falls back to the
// WebSocket collaborator for descriptors the server does not know.
type Router struct {
	srv *server.Server
	ws  WebSocketEndpoint
}

// NewRouter builds a router. ws may be nil.
func NewRouter(srv *server.Server, ws WebSocketEndpoint) *Router {
	return &Router{srv: srv, ws: ws}
}

func (r *Router) Write(fd int, data []byte) (int, error) {
	n, err := r.srv.Write(fd, data)
	if err == nil || !errors.Is(err, api.ErrNotFound) || r.ws == nil {
		return n, err
	}
	return r.ws.Write(fd, data)
}

func (r *Router) Close(fd int, reason string) bool {
	if r.srv.Close(fd, reason) {
		return true
	}
	return r.ws != nil && r.ws.Close(fd, reason)
}

// Listen opens a plain or WebSocket listener.
func (r *Router) Listen(host string, port uint16, websocket bool) (int, error) {
	if !websocket {
		return r.srv.Listen(host, port, server.Hooks{})
	}
	if r.ws == nil {
		return -1, fmt.Errorf("websocket listener: %w", api.ErrNotSupported)
	}
	return r.ws.Listen(host, port)
}

// Connect opens an outbound plain connection.
func (r *Router) Connect(host string, port uint16) (int, error) {
	return r.srv.Connect(host, port, server.Hooks{})
}
