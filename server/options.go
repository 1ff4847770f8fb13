// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/api"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithControl wires runtime limits, counters and debug probes to ctrl.
func WithControl(ctrl api.Control) ServerOption {
	return func(s *Server) {
		s.ctrl = ctrl
		if ctrl != nil {
			s.metrics = ctrl
		}
	}
}

// WithMetrics sets the counter sink without a full control plane.
func WithMetrics(m api.Metrics) ServerOption {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBufferLimits overrides per-connection buffer limits (0 = unbounded).
func WithBufferLimits(inbound, outbound int) ServerOption {
	return func(s *Server) {
		s.cfg.MaxInboundBuffer = inbound
		s.cfg.MaxOutboundBuffer = outbound
	}
}

// WithMaxEvents overrides the readiness batch size.
func WithMaxEvents(n int) ServerOption {
	return func(s *Server) {
		s.cfg.MaxEvents = n
	}
}
