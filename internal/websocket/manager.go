// File: internal/websocket/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager owns WebSocket listeners and sessions. Sessions are keyed by the
// descriptor of their adopted connection, which cannot collide with a
// descriptor registered in the epoll server while it stays open.

package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/core/buffer"
	"github.com/momentics/hioload-lua/core/concurrency"
	"github.com/momentics/hioload-lua/core/protocol"
	"github.com/momentics/hioload-lua/internal/session"
	"github.com/momentics/hioload-lua/internal/transport"
	"github.com/momentics/hioload-lua/server"
)

// Metric keys maintained by the manager.
const (
	MetricAccepted       = "ws.accepted"
	MetricClosed         = "ws.closed"
	MetricFramesIn       = "ws.frames_in"
	MetricProtocolErrors = "ws.protocol_errors"
)

const (
	DefaultPath         = "/ws"
	HealthPath          = "/healthz"
	DefaultWriteTimeout = 10 * time.Second
	handoffBacklog      = 128
)

// Option customizes a Manager.
type Option func(*Manager)

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithControl wires counters and the session probe.
func WithControl(ctrl api.Control) Option {
	return func(m *Manager) { m.ctrl = ctrl }
}

// WithPath sets the upgrade route.
func WithPath(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.path = path
		}
	}
}

// WithCompression negotiates permessage-deflate on listeners opened by Listen.
func WithCompression(on bool) Option {
	return func(m *Manager) { m.compression = on }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// Manager serves WebSocket clients on listeners registered with srv.
type Manager struct {
	srv          *server.Server
	queue        *concurrency.CommandQueue
	log          *zap.Logger
	ctrl         api.Control
	metrics      api.Metrics
	path         string
	compression  bool
	writeTimeout time.Duration

	sessions *session.Manager[*conn]
	nextID   atomic.Uint32
	handlers sync.WaitGroup

	mu        sync.Mutex
	endpoints map[int]*endpoint
}

type endpoint struct {
	fd          int
	port        uint16
	compression bool
	upgrader    websocket.Upgrader
	ln          *chanListener
	http        *http.Server
}

type conn struct {
	ws     *websocket.Conn
	framer protocol.Framer
	in     *buffer.FrameBuffer
	wmu    sync.Mutex
}

type connKey struct{}

// NewManager creates a manager publishing events to the queue of srv.
func NewManager(srv *server.Server, opts ...Option) *Manager {
	m := &Manager{
		srv:          srv,
		queue:        srv.Queue(),
		log:          zap.NewNop(),
		metrics:      api.NopMetrics{},
		path:         DefaultPath,
		writeTimeout: DefaultWriteTimeout,
		sessions:     session.NewManager[*conn](0),
		endpoints:    make(map[int]*endpoint),
	}
	for _, o := range opts {
		o(m)
	}
	if m.ctrl != nil {
		m.metrics = m.ctrl
		m.ctrl.RegisterDebugProbe("ws.sessions", func() any { return m.sessions.Len() })
	}
	return m
}

// Listen registers a WebSocket listener with the manager's compression
// setting and returns its descriptor.
func (m *Manager) Listen(host string, port uint16) (int, error) {
	return m.ListenCompressed(host, port, m.compression)
}

// ListenCompressed is Listen with an explicit permessage-deflate setting.
func (m *Manager) ListenCompressed(host string, port uint16, compression bool) (int, error) {
	ep := &endpoint{
		compression: compression,
		upgrader: websocket.Upgrader{
			EnableCompression: compression,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		ln: newChanListener(handoffBacklog),
	}
	fd, err := m.srv.Listen(host, port, server.Hooks{
		Accept: func(l server.Loop, _ *server.SocketEvent, fd int, peer transport.PeerAddr) server.AcceptDecision {
			m.accept(ep, l, fd, peer)
			return server.AcceptVeto
		},
		End: func(_ server.Loop, se *server.SocketEvent, reason string) {
			m.dropEndpoint(se.Fd(), reason)
		},
	})
	if err != nil {
		return -1, err
	}
	bound, _ := m.srv.ListenerPort(fd)
	ep.fd = fd
	ep.port = bound
	ep.ln.addr = &net.TCPAddr{IP: net.IPv4zero, Port: int(bound)}

	router := httprouter.New()
	router.GET(m.path, m.serveUpgrade(ep))
	router.GET(HealthPath, m.serveHealth)
	ep.http = &http.Server{
		Handler:  router,
		ErrorLog: zap.NewStdLog(m.log.Named("http")),
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return context.WithValue(ctx, connKey{}, c)
		},
	}

	m.mu.Lock()
	m.endpoints[fd] = ep
	m.mu.Unlock()

	go func() {
		if err := ep.http.Serve(ep.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Warn("websocket endpoint stopped", zap.Int("fd", fd), zap.Error(err))
		}
	}()
	m.log.Info("websocket listening", zap.Int("fd", fd), zap.Uint16("port", bound), zap.String("path", m.path))
	return fd, nil
}

// accept runs on the loop goroutine; it must not block.
func (m *Manager) accept(ep *endpoint, l server.Loop, fd int, peer transport.PeerAddr) {
	pc, err := handoff(fd, peer)
	if err != nil {
		m.log.Warn("websocket handoff failed", zap.Error(err))
		return
	}
	pc.framer = l.Framer()
	if !ep.ln.push(pc) {
		m.log.Warn("websocket backlog full", zap.Stringer("peer", peer))
		_ = pc.Close()
	}
}

func (m *Manager) serveHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "sessions": m.sessions.Len()})
}

func (m *Manager) serveUpgrade(ep *endpoint) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		pc, ok := r.Context().Value(connKey{}).(*peerConn)
		if !ok {
			http.Error(w, "unknown connection", http.StatusInternalServerError)
			return
		}
		ws, err := ep.upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.log.Debug("websocket upgrade failed", zap.Stringer("peer", pc.peer), zap.Error(err))
			return
		}
		if ep.compression {
			ws.EnableWriteCompression(true)
		}
		c := &conn{
			ws:     ws,
			framer: pc.framer,
			in:     buffer.NewFrameBuffer(0),
		}
		s, err := m.sessions.Create(pc.fd, c)
		if err != nil {
			m.log.Warn("websocket session rejected", zap.Int("fd", pc.fd), zap.Error(err))
			_ = ws.Close()
			return
		}

		m.handlers.Add(1)
		defer m.handlers.Done()
		m.metrics.Add(MetricAccepted, 1)
		m.queue.Enqueue(concurrency.NewConnection{
			ID:         m.nextID.Add(1),
			Descriptor: pc.fd,
			PeerIP:     pc.peer.IP,
			Port:       ep.port,
			WebSocket:  true,
		})
		m.log.Debug("websocket connected", zap.Int("fd", pc.fd), zap.String("session", s.ID()))
		m.readLoop(s)
	}
}

// readLoop owns the session until the connection ends. It is the only
// place LostConnection is emitted, so it is emitted once.
func (m *Manager) readLoop(s *session.Session[*conn]) {
	c := s.Value()
	reason := ""
	for reason == "" {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			reason = readErrorReason(err)
			break
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		_, _ = c.in.Write(data)
		frames, ferr := c.framer.ExtractAll(c.in)
		for _, f := range frames {
			m.metrics.Add(MetricFramesIn, 1)
			m.queue.Enqueue(concurrency.InboundMessage{Descriptor: s.Fd(), Frame: f})
		}
		if ferr != nil {
			m.metrics.Add(MetricProtocolErrors, 1)
			reason = server.ReasonProtocolPrefix + ferr.Error()
			m.sendClose(c, websocket.CloseProtocolError, reason)
		}
	}

	m.sessions.Delete(s.Fd(), reason)
	_ = c.ws.Close()
	m.metrics.Add(MetricClosed, 1)
	m.queue.Enqueue(concurrency.LostConnection{Descriptor: s.Fd(), Reason: s.Reason()})
	m.log.Debug("websocket closed", zap.Int("fd", s.Fd()), zap.String("reason", s.Reason()))
}

func readErrorReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return server.ReasonPeerClosed
	}
	if transport.IsReset(err) {
		return server.ReasonPeerReset
	}
	if errors.Is(err, net.ErrClosed) {
		return server.ReasonPeerClosed
	}
	return "io error: " + err.Error()
}

// Write sends one wire frame as a binary message.
func (m *Manager) Write(fd int, data []byte) (int, error) {
	s, ok := m.sessions.Get(fd)
	if !ok {
		return 0, fmt.Errorf("websocket fd %d: %w", fd, api.ErrNotFound)
	}
	if s.Reason() != "" {
		return 0, server.ErrSocketClosing
	}
	c := s.Value()
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close starts closing a session. The read loop reports LostConnection
// with reason once the connection is down.
func (m *Manager) Close(fd int, reason string) bool {
	s, ok := m.sessions.Get(fd)
	if !ok {
		return false
	}
	if s.Cancel(reason) {
		c := s.Value()
		m.sendClose(c, websocket.CloseNormalClosure, reason)
		_ = c.ws.UnderlyingConn().Close()
	}
	return true
}

func (m *Manager) sendClose(c *conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, truncateReason(reason))
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// Control frame payloads are limited to 125 bytes, 2 of which hold the code.
func truncateReason(reason string) string {
	if len(reason) > 123 {
		return reason[:123]
	}
	return reason
}

// Count returns the number of live sessions.
func (m *Manager) Count() int { return m.sessions.Len() }

func (m *Manager) dropEndpoint(fd int, reason string) {
	m.mu.Lock()
	ep := m.endpoints[fd]
	delete(m.endpoints, fd)
	m.mu.Unlock()
	if ep == nil {
		return
	}
	_ = ep.ln.Close()
	go func() { _ = ep.http.Close() }()
	m.log.Info("websocket listener closed", zap.Int("fd", fd), zap.String("reason", reason))
}

// Shutdown closes every listener and session and waits for the read loops
// until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	fds := make([]int, 0, len(m.endpoints))
	for fd := range m.endpoints {
		fds = append(fds, fd)
	}
	m.mu.Unlock()
	for _, fd := range fds {
		if !m.srv.Close(fd, server.ReasonShutdown) {
			m.dropEndpoint(fd, server.ReasonShutdown)
		}
	}

	var live []int
	m.sessions.Range(func(s *session.Session[*conn]) { live = append(live, s.Fd()) })
	for _, fd := range live {
		m.Close(fd, server.ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
