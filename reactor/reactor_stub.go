//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

// NewPoller returns ErrUnsupported outside Linux.
func NewPoller() (Poller, error) {
	return nil, ErrUnsupported
}
