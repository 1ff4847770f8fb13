// Package transport
// Author: momentics <momentics@gmail.com>
//
// Platform-independent helpers shared by the socket implementations.

package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultBacklog is the listen(2) queue length.
const DefaultBacklog = 1024

// PeerAddr is the remote endpoint of an accepted or dialed connection.
type PeerAddr struct {
	IP   string
	Port uint16
}

// String renders host:port.
func (p PeerAddr) String() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(int(p.Port)))
}

// ResolveBind turns a bind address and port into a concrete TCP address.
// Surrounding quotes are trimmed. With port 0 a "host:port" bind address is
// used as-is; a bare host with port 0 asks the kernel for an ephemeral port.
func ResolveBind(bind string, port uint16) (*net.TCPAddr, error) {
	bind = strings.Trim(strings.TrimSpace(bind), `"'`)
	addr := net.JoinHostPort(bind, strconv.Itoa(int(port)))
	if port == 0 {
		if host, p, err := net.SplitHostPort(bind); err == nil {
			addr = net.JoinHostPort(host, p)
		}
	}
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	return ta, nil
}
