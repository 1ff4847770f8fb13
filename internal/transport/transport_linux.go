// internal/transport/transport_linux.go
//go:build linux
// +build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux non-blocking TCP sockets over raw descriptors.

package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Listen creates a non-blocking listening socket bound to addr.
func Listen(addr *net.TCPAddr, backlog int) (int, error) {
	family, sa, err := toSockaddr(addr)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", addr, err)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", addr, err)
	}
	return fd, nil
}

// Accept takes one pending connection off a listening socket. The new
// descriptor is non-blocking with TCP_NODELAY set.
func Accept(fd int) (int, PeerAddr, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, PeerAddr{}, err
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return nfd, fromSockaddr(sa), nil
}

// Dial opens an outbound TCP connection and returns its descriptor switched
// to non-blocking mode.
func Dial(addr string, timeout time.Duration) (int, PeerAddr, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return -1, PeerAddr{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	tc := conn.(*net.TCPConn)
	_ = tc.SetNoDelay(true)
	rc, err := tc.SyscallConn()
	if err != nil {
		return -1, PeerAddr{}, fmt.Errorf("syscall conn: %w", err)
	}
	nfd := -1
	var dupErr error
	if err := rc.Control(func(s uintptr) {
		nfd, dupErr = unix.Dup(int(s))
	}); err != nil {
		return -1, PeerAddr{}, fmt.Errorf("control: %w", err)
	}
	if dupErr != nil {
		return -1, PeerAddr{}, fmt.Errorf("dup: %w", dupErr)
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, PeerAddr{}, fmt.Errorf("set nonblock: %w", err)
	}
	ra := tc.RemoteAddr().(*net.TCPAddr)
	return nfd, PeerAddr{IP: ra.IP.String(), Port: uint16(ra.Port)}, nil
}

// Read reads into p. Returns (0, nil) on orderly peer shutdown.
func Read(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write writes as much of p as the socket accepts.
func Write(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close closes the descriptor.
func Close(fd int) error {
	return unix.Close(fd)
}

// SetBlocking switches a descriptor between blocking and non-blocking mode.
func SetBlocking(fd int, blocking bool) error {
	return unix.SetNonblock(fd, !blocking)
}

// LocalPort returns the port a socket is bound to.
func LocalPort(fd int) (uint16, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("getsockname: %w", err)
	}
	return fromSockaddr(sa).Port, nil
}

// IsWouldBlock reports a transient "try again" condition.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// IsInterrupted reports a syscall interrupted by a signal.
func IsInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// IsReset reports an abortive peer close.
func IsReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNABORTED)
}

func toSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		return unix.AF_INET6, sa, nil
	}
	return 0, nil, fmt.Errorf("unsupported address %s", addr)
}

func fromSockaddr(sa unix.Sockaddr) PeerAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return PeerAddr{IP: net.IP(a.Addr[:]).String(), Port: uint16(a.Port)}
	case *unix.SockaddrInet6:
		return PeerAddr{IP: net.IP(a.Addr[:]).String(), Port: uint16(a.Port)}
	default:
		return PeerAddr{}
	}
}
