//go:build !linux
// +build !linux

// File: internal/transport/transport_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package transport

import (
	"net"
	"time"

	"github.com/momentics/hioload-lua/api"
)

func Listen(addr *net.TCPAddr, backlog int) (int, error) { return -1, api.ErrNotSupported }

func Accept(fd int) (int, PeerAddr, error) { return -1, PeerAddr{}, api.ErrNotSupported }

func Dial(addr string, timeout time.Duration) (int, PeerAddr, error) {
	return -1, PeerAddr{}, api.ErrNotSupported
}

func Read(fd int, p []byte) (int, error)  { return 0, api.ErrNotSupported }
func Write(fd int, p []byte) (int, error) { return 0, api.ErrNotSupported }
func Close(fd int) error                  { return api.ErrNotSupported }

func SetBlocking(fd int, blocking bool) error { return api.ErrNotSupported }

func LocalPort(fd int) (uint16, error) { return 0, api.ErrNotSupported }

func IsWouldBlock(err error) bool  { return false }
func IsInterrupted(err error) bool { return false }
func IsReset(err error) bool       { return false }
