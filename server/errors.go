// File: server/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "errors"

var (
	ErrAlreadyRunning   = errors.New("server already running")
	ErrServerClosed     = errors.New("server closed")
	ErrNotConnection    = errors.New("descriptor is not a connection")
	ErrSocketClosing    = errors.New("socket is closing")
	ErrOutboundOverflow = errors.New("outbound buffer overflow")
)

// Close reasons reported through end hooks and LostConnection events.
const (
	ReasonPeerClosed       = "peer closed"
	ReasonPeerReset        = "peer closed: connection reset"
	ReasonProtocolPrefix   = "protocol violation: "
	ReasonInboundOverflow  = "inbound buffer overflow"
	ReasonOutboundOverflow = "outbound buffer overflow"
	ReasonShutdown         = "server shutdown"
	ReasonClosedByScript   = "closed by script"
)
