// File: server/run.go
// Package server implements the poll loop, accept/read/flush processing and
// graceful shutdown.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/core/protocol"
	"github.com/momentics/hioload-lua/internal/transport"
	"github.com/momentics/hioload-lua/reactor"
)

// Run drives the event loop on the calling goroutine until ctx is cancelled
// or Shutdown is called. On return every socket has been disposed and
// connections have reported ReasonShutdown.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)
	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	events := make([]reactor.Event, s.cfg.MaxEvents)
	timeout := s.cfg.pollTimeoutMs()
	s.log.Info("event loop started", zap.Int("max_events", s.cfg.MaxEvents))

	var runErr error
	for !s.stopping.Load() {
		n, err := s.poller.Wait(events, timeout)
		if err != nil {
			s.log.Error("poll failed", zap.Error(err))
			runErr = err
			break
		}
		if n > 0 {
			s.processBatch(events[:n])
		}
	}

	s.teardown.Do(s.closeAll)
	s.log.Info("event loop stopped")
	return runErr
}

// Shutdown asks the loop to stop and wakes it. Safe from any goroutine and
// idempotent. A server that never ran is torn down directly.
func (s *Server) Shutdown() {
	s.stopping.Store(true)
	if s.running.Load() {
		if err := s.poller.Wake(); err != nil {
			s.log.Warn("wake failed", zap.Error(err))
		}
		return
	}
	s.teardown.Do(s.closeAll)
}

// Done is closed when Run returns.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) closeAll() {
	s.mu.Lock()
	for fd, se := range s.sockets {
		if !se.closing {
			se.closing = true
			se.closeReason = ReasonShutdown
			s.pending = append(s.pending, fd)
		}
	}
	s.inBatch = false
	s.reapLocked()
	s.closed = true
	s.mu.Unlock()

	if err := s.poller.Close(); err != nil {
		s.log.Warn("poller close failed", zap.Error(err))
	}
}

// processBatch handles one readiness batch under the registry lock. Closes
// requested during the batch are applied at its end.
func (s *Server) processBatch(events []reactor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inBatch = true
	for _, ev := range events {
		se := s.sockets[ev.Fd]
		if se == nil || se.closing {
			continue
		}
		if se.role == RoleListener {
			s.acceptAll(se)
			continue
		}
		if ev.Writable {
			s.flush(se)
		}
		if (ev.Readable || ev.Hangup) && !se.closing {
			s.readAll(se)
		}
	}
	s.inBatch = false
	s.reapLocked()
}

func (s *Server) acceptAll(ls *SocketEvent) {
	for {
		fd, peer, err := transport.Accept(ls.fd)
		if err != nil {
			if transport.IsWouldBlock(err) {
				return
			}
			if transport.IsInterrupted(err) {
				continue
			}
			s.log.Warn("accept failed", zap.Stringer("listener", ls), zap.Error(err))
			return
		}
		if ls.hooks.Accept != nil && s.callAccept(ls.hooks.Accept, ls, fd, peer) == AcceptVeto {
			continue
		}
		inherited := Hooks{Read: ls.hooks.Read, End: ls.hooks.End}
		if _, err := s.registerLocked(fd, peer, ls.port, inherited, false); err != nil {
			s.log.Warn("register failed", zap.Int("fd", fd), zap.Error(err))
			transport.Close(fd)
		}
	}
}

// flush writes queued bytes until the buffer empties or the socket would
// block. A full flush drops write interest.
func (s *Server) flush(se *SocketEvent) {
	for se.out.Len() > 0 {
		n, err := transport.Write(se.fd, se.out.Bytes())
		if n > 0 {
			se.out.Consume(n)
			s.metrics.Add(MetricBytesOut, int64(n))
		}
		if err != nil {
			if transport.IsWouldBlock(err) {
				return
			}
			if transport.IsInterrupted(err) {
				continue
			}
			s.markClose(se, closeReason(err))
			return
		}
	}
	if se.state == StateWriteFlushing {
		if err := s.poller.Modify(se.fd, reactor.InterestRead); err != nil {
			s.markClose(se, "io error: "+err.Error())
			return
		}
		se.state = StateConnected
	}
}

// readAll reads until the socket would block. Each non-empty read is handed
// to the read hook before the next one, so data preceding a FIN is
// delivered before the close.
func (s *Server) readAll(se *SocketEvent) {
	for {
		n, err := transport.Read(se.fd, s.readBuf)
		if n > 0 {
			_, _ = se.in.Write(s.readBuf[:n])
			s.metrics.Add(MetricBytesIn, int64(n))
			if herr := s.callRead(se); herr != nil {
				if protocol.IsProtocolViolation(herr) {
					s.metrics.Add(MetricProtocolErrors, 1)
					s.log.Warn("protocol violation", zap.Stringer("socket", se), zap.Error(herr))
					s.markClose(se, ReasonProtocolPrefix+herr.Error())
				} else {
					s.markClose(se, herr.Error())
				}
				return
			}
			if se.closing {
				return
			}
			if limit := s.maxIn.Load(); limit > 0 && int64(se.in.Len()) > limit {
				s.markClose(se, ReasonInboundOverflow)
				return
			}
		}
		if err != nil {
			if transport.IsWouldBlock(err) {
				return
			}
			if transport.IsInterrupted(err) {
				continue
			}
			s.markClose(se, closeReason(err))
			return
		}
		if n == 0 {
			s.markClose(se, ReasonPeerClosed)
			return
		}
	}
}

func closeReason(err error) string {
	if transport.IsReset(err) {
		return ReasonPeerReset
	}
	return "io error: " + err.Error()
}
