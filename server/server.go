// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server owns every socket lifecycle: the descriptor registry, the readiness
// poller and the hand-off of decoded events to the command queue.

package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/control"
	"github.com/momentics/hioload-lua/core/concurrency"
	"github.com/momentics/hioload-lua/internal/transport"
	"github.com/momentics/hioload-lua/reactor"
)

// Metric keys maintained by the server.
const (
	MetricAccepted       = "server.accepted"
	MetricClosed         = "server.closed"
	MetricFramesIn       = "server.frames_in"
	MetricBytesIn        = "server.bytes_in"
	MetricBytesOut       = "server.bytes_out"
	MetricProtocolErrors = "server.protocol_errors"
)

// Server is the single-goroutine event loop driver.
type Server struct {
	cfg     *Config
	queue   *concurrency.CommandQueue
	poller  reactor.Poller
	log     *zap.Logger
	ctrl    api.Control
	metrics api.Metrics

	mu      sync.Mutex
	sockets map[int]*SocketEvent
	pending []int
	inBatch bool
	closed  bool

	nextID   atomic.Uint32
	maxFrame atomic.Int64
	maxIn    atomic.Int64
	maxOut   atomic.Int64

	running  atomic.Bool
	stopping atomic.Bool
	teardown sync.Once
	done     chan struct{}

	readBuf []byte
}

// New builds a Server publishing events into queue.
func New(cfg *Config, queue *concurrency.CommandQueue, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if queue == nil {
		return nil, fmt.Errorf("server: %w: nil command queue", api.ErrInvalidArgument)
	}
	c := *cfg
	s := &Server{
		cfg:     &c,
		queue:   queue,
		log:     zap.NewNop(),
		metrics: api.NopMetrics{},
		sockets: make(map[int]*SocketEvent),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.cfg.normalize()

	poller, err := reactor.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("server: create poller: %w", err)
	}
	s.poller = poller
	s.readBuf = make([]byte, s.cfg.ReadChunkSize)
	s.maxFrame.Store(int64(s.cfg.MaxFrameLen))
	s.maxIn.Store(int64(s.cfg.MaxInboundBuffer))
	s.maxOut.Store(int64(s.cfg.MaxOutboundBuffer))

	if s.ctrl != nil {
		s.applyLimits(s.ctrl.GetConfig())
		s.ctrl.OnReload(func() { s.applyLimits(s.ctrl.GetConfig()) })
		s.ctrl.RegisterDebugProbe("server.sockets", func() any { return s.Count() })
		s.ctrl.RegisterDebugProbe("server.queue_depth", func() any { return s.queue.Len() })
	}
	return s, nil
}

// applyLimits picks up runtime-tunable limits from a config snapshot.
func (s *Server) applyLimits(cfg map[string]any) {
	if v, ok := control.IntValue(cfg, control.KeyMaxFrameLen); ok && v >= 4 {
		s.maxFrame.Store(v)
	}
	if v, ok := control.IntValue(cfg, control.KeyMaxInboundBuffer); ok && v >= 0 {
		s.maxIn.Store(v)
	}
	if v, ok := control.IntValue(cfg, control.KeyMaxOutboundBuffer); ok && v >= 0 {
		s.maxOut.Store(v)
	}
	s.log.Debug("limits applied",
		zap.Int64("max_frame_len", s.maxFrame.Load()),
		zap.Int64("max_inbound_buffer", s.maxIn.Load()),
		zap.Int64("max_outbound_buffer", s.maxOut.Load()))
}

// Queue returns the command queue events are published to.
func (s *Server) Queue() *concurrency.CommandQueue { return s.queue }

// Listen binds, listens and registers a listener. Nil hook fields fall back
// to DefaultRead and DefaultEnd. With port 0 a "host:port" bind address is
// used as given; otherwise port 0 selects an ephemeral port.
func (s *Server) Listen(bindAddr string, port uint16, hooks Hooks) (int, error) {
	addr, err := transport.ResolveBind(bindAddr, port)
	if err != nil {
		return -1, err
	}
	fd, err := transport.Listen(addr, s.cfg.Backlog)
	if err != nil {
		return -1, err
	}
	bound, err := transport.LocalPort(fd)
	if err != nil {
		transport.Close(fd)
		return -1, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		transport.Close(fd)
		return -1, ErrServerClosed
	}
	if err := s.poller.Add(fd, reactor.InterestRead); err != nil {
		transport.Close(fd)
		return -1, fmt.Errorf("register listener: %w", err)
	}
	s.sockets[fd] = newListener(fd, bound, hooks)
	s.log.Info("listening", zap.Int("fd", fd), zap.String("addr", addr.IP.String()), zap.Uint16("port", bound))
	return fd, nil
}

// Connect opens an outbound connection and registers it like an accepted
// one, flagged local. A NewConnection event is queued.
func (s *Server) Connect(host string, port uint16, hooks Hooks) (int, error) {
	addr := net.JoinHostPort(strings.Trim(strings.TrimSpace(host), `"'`), strconv.Itoa(int(port)))
	fd, peer, err := transport.Dial(addr, s.cfg.DialTimeout)
	if err != nil {
		return -1, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		transport.Close(fd)
		return -1, ErrServerClosed
	}
	if _, err := s.registerLocked(fd, peer, peer.Port, hooks, true); err != nil {
		transport.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Write appends data to the connection's outbound buffer and arms write
// readiness. Bytes reach the peer from the loop goroutine.
func (s *Server) Write(fd int, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrServerClosed
	}
	se := s.sockets[fd]
	if se == nil {
		return 0, errNotFound(fd)
	}
	if err := s.writeLocked(se, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close schedules the socket for disposal. It returns false when fd is
// unknown or already closing. Outside a batch disposal is immediate.
func (s *Server) Close(fd int, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	se := s.sockets[fd]
	if se == nil || se.closing {
		return false
	}
	if reason == "" {
		reason = ReasonClosedByScript
	}
	s.markClose(se, reason)
	return true
}

// Exists reports whether fd is registered.
func (s *Server) Exists(fd int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sockets[fd]
	return ok
}

// Count returns the number of registered sockets, listeners included.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// Info returns a snapshot of one registry entry.
func (s *Server) Info(fd int) (SocketInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	se := s.sockets[fd]
	if se == nil {
		return SocketInfo{}, false
	}
	return se.info(), true
}

// ListenerPort returns the bound port of a listener.
func (s *Server) ListenerPort(fd int) (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	se := s.sockets[fd]
	if se == nil || se.role != RoleListener {
		return 0, false
	}
	return se.port, true
}

func errNotFound(fd int) error {
	return fmt.Errorf("fd %d: %w", fd, api.ErrNotFound)
}

func (s *Server) enqueue(ev concurrency.Event) {
	if _, ok := ev.(concurrency.InboundMessage); ok {
		s.metrics.Add(MetricFramesIn, 1)
	}
	s.queue.Enqueue(ev)
}

// registerLocked adds a connection and announces it.
func (s *Server) registerLocked(fd int, peer transport.PeerAddr, port uint16, hooks Hooks, local bool) (*SocketEvent, error) {
	if err := s.poller.Add(fd, reactor.InterestRead); err != nil {
		return nil, fmt.Errorf("register connection: %w", err)
	}
	se := newConnection(fd, s.nextID.Add(1), peer, port, hooks, local)
	s.sockets[fd] = se
	s.metrics.Add(MetricAccepted, 1)
	s.enqueue(concurrency.NewConnection{
		ID:         se.id,
		Descriptor: fd,
		PeerIP:     peer.IP,
		Port:       port,
		WebSocket:  se.websocket,
	})
	s.log.Debug("connection registered", zap.Stringer("socket", se), zap.Bool("local", local))
	return se, nil
}

func (s *Server) writeLocked(se *SocketEvent, data []byte) error {
	if se.role != RoleConnection {
		return ErrNotConnection
	}
	if se.closing {
		return ErrSocketClosing
	}
	_, _ = se.out.Write(data)
	if limit := s.maxOut.Load(); limit > 0 && int64(se.out.Len()) > limit {
		s.markClose(se, ReasonOutboundOverflow)
		return ErrOutboundOverflow
	}
	if se.state != StateWriteFlushing && se.out.Len() > 0 {
		if err := s.poller.Modify(se.fd, reactor.InterestReadWrite); err != nil {
			s.markClose(se, "io error: "+err.Error())
			return err
		}
		se.state = StateWriteFlushing
	}
	return nil
}

// markClose schedules disposal. Inside a batch it is deferred to the end of
// the batch; otherwise it happens now.
func (s *Server) markClose(se *SocketEvent, reason string) {
	if se.closing {
		return
	}
	se.closing = true
	se.closeReason = reason
	s.pending = append(s.pending, se.fd)
	if !s.inBatch {
		s.reapLocked()
	}
}

// reapLocked disposes every socket scheduled for close. End hooks may
// schedule further closes; those are drained too.
func (s *Server) reapLocked() {
	for len(s.pending) > 0 {
		fd := s.pending[0]
		s.pending = s.pending[1:]
		se := s.sockets[fd]
		if se == nil {
			continue
		}
		delete(s.sockets, fd)
		if err := s.poller.Remove(fd); err != nil {
			s.log.Debug("poller remove failed", zap.Int("fd", fd), zap.Error(err))
		}
		se.state = StateClosed
		s.callEnd(se, se.closeReason)
		if err := transport.Close(fd); err != nil {
			s.log.Debug("close failed", zap.Int("fd", fd), zap.Error(err))
		}
		if se.role == RoleConnection {
			s.metrics.Add(MetricClosed, 1)
		}
		s.log.Debug("socket closed", zap.Stringer("socket", se), zap.String("reason", se.closeReason))
	}
	s.pending = s.pending[:0]
}

func (s *Server) callEnd(se *SocketEvent, reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("end hook panic", zap.Int("fd", se.fd), zap.Any("panic", r))
		}
	}()
	hook := se.hooks.End
	if hook == nil {
		hook = DefaultEnd
	}
	hook(loopHandle{s}, se, reason)
}

func (s *Server) callRead(se *SocketEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read hook panic: %v", r)
		}
	}()
	hook := se.hooks.Read
	if hook == nil {
		hook = DefaultRead
	}
	return hook(loopHandle{s}, se)
}

func (s *Server) callAccept(hook AcceptHook, ls *SocketEvent, fd int, peer transport.PeerAddr) (d AcceptDecision) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("accept hook panic", zap.Int("listener", ls.fd), zap.Int("fd", fd), zap.Any("panic", r))
			transport.Close(fd)
			d = AcceptVeto
		}
	}()
	return hook(loopHandle{s}, ls, fd, peer)
}
