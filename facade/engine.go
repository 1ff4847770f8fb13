// File: facade/engine.go
// Unified facade layer for hioload-lua.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine aggregates the socket server, WebSocket endpoint, script runtime
// and its collaborators behind a single Run. The server loop runs on its
// own goroutine; the script runs on the goroutine calling Run.

package facade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/adapters"
	"github.com/momentics/hioload-lua/codec"
	"github.com/momentics/hioload-lua/control"
	"github.com/momentics/hioload-lua/core/concurrency"
	"github.com/momentics/hioload-lua/internal/cache"
	"github.com/momentics/hioload-lua/internal/console"
	"github.com/momentics/hioload-lua/internal/store"
	"github.com/momentics/hioload-lua/internal/websocket"
	"github.com/momentics/hioload-lua/script"
	"github.com/momentics/hioload-lua/server"
)

const shutdownTimeout = 5 * time.Second

// ErrAlreadyStarted is returned by a second Run.
var ErrAlreadyStarted = errors.New("engine already started")

// Options are process-level switches not carried by the config file.
type Options struct {
	ConfigPath string // watched for changes when Watch is set
	Watch      bool
	Console    bool
}

// Engine is the main facade type. It is single use: Run releases every
// component when it returns.
type Engine struct {
	fc   *control.FileConfig
	opts Options
	log  *zap.Logger

	ctrl       *adapters.ControlAdapter
	queue      *concurrency.CommandQueue
	srv        *server.Server
	ws         *websocket.Manager
	rt         *script.Runtime
	dispatcher *script.Dispatcher
	entries    script.EntryPoints
	cache      *cache.Client
	store      *store.Store

	ready   chan struct{}
	mu      sync.Mutex
	started bool
	ports   []uint16
}

// New builds every component from fc. Nothing listens until Run.
func New(fc *control.FileConfig, log *zap.Logger, opts Options) (*Engine, error) {
	if fc == nil {
		fc = control.DefaultFileConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{fc: fc, opts: opts, log: log, ready: make(chan struct{})}

	e.ctrl = adapters.NewControlAdapter()
	if err := e.ctrl.ApplyFile(fc); err != nil {
		return nil, err
	}
	e.queue = concurrency.NewCommandQueue()

	cfg := server.DefaultConfig()
	cfg.MaxFrameLen = fc.Limits.MaxFrameLen
	cfg.MaxInboundBuffer = fc.Limits.MaxInboundBuffer
	cfg.MaxOutboundBuffer = fc.Limits.MaxOutboundBuffer
	srv, err := server.New(cfg, e.queue, server.WithLogger(log.Named("server")), server.WithControl(e.ctrl))
	if err != nil {
		return nil, err
	}
	e.srv = srv

	payloads, err := codec.ByName(fc.Script.Codec)
	if err != nil {
		return nil, err
	}
	e.entries = script.DefaultEntryPoints().Override(fc.Script.Entries)
	e.rt = script.NewRuntime(log.Named("script"))
	e.dispatcher = script.NewDispatcher(e.rt, e.queue, payloads,
		script.WithEntryPoints(e.entries),
		script.WithDispatchLogger(log.Named("dispatch")),
		script.WithDispatchMetrics(e.ctrl))

	e.ws = websocket.NewManager(srv, websocket.WithLogger(log.Named("websocket")), websocket.WithControl(e.ctrl))
	bindings := script.Bindings{Router: script.NewRouter(srv, e.ws)}
	if fc.Cache != nil {
		e.cache = cache.New(*fc.Cache, e.queue,
			cache.WithLogger(log.Named("cache")), cache.WithMetrics(e.ctrl), cache.WithEntry(e.entries.CacheResult))
		bindings.Cache = e.cache
	}
	if fc.Store != nil {
		e.store, err = store.Open(*fc.Store, e.queue, payloads,
			store.WithLogger(log.Named("store")), store.WithMetrics(e.ctrl), store.WithEntry(e.entries.DBResult))
		if err != nil {
			e.rt.Close()
			return nil, err
		}
		bindings.Store = e.store
	}
	e.dispatcher.Register(bindings)
	return e, nil
}

// Control returns the control surface.
func (e *Engine) Control() *adapters.ControlAdapter { return e.ctrl }

// Ready is closed once the script is loaded and every listener is open.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// ListenerPorts returns the bound ports of the configured listeners, in
// configuration order. Valid after Ready.
func (e *Engine) ListenerPorts() []uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint16(nil), e.ports...)
}

// Run serves until ctx is cancelled, the console exits or the server loop
// fails, then shuts everything down.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer e.release()

	if e.opts.ConfigPath != "" && e.opts.Watch {
		w, err := control.WatchFile(e.opts.ConfigPath, e.ctrl.ApplyFile, e.log.Named("config"))
		if err != nil {
			e.log.Warn("config watch disabled", zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- e.srv.Run(ctx) }()
	defer e.shutdown(stop)

	if err := e.rt.LoadFile(e.fc.Script.Path); err != nil {
		return err
	}
	if err := e.openListeners(); err != nil {
		return err
	}
	close(e.ready)

	if e.opts.Console {
		con := console.New(e.queue, e.ctrl, console.WithLogger(e.log.Named("console")), console.WithRunString(e.entries.RunString))
		go func() {
			if err := con.Run(ctx); err != nil {
				e.log.Warn("console stopped", zap.Error(err))
			}
			stop()
		}()
	}
	go func() {
		if err := <-serverErr; err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error("server loop failed", zap.Error(err))
		}
		stop()
	}()

	interval := time.Duration(e.fc.Script.IntervalMs) * time.Millisecond
	e.log.Info("dispatching", zap.String("script", e.fc.Script.Path), zap.Duration("interval", interval))
	return e.dispatcher.Run(ctx, interval)
}

func (e *Engine) openListeners() error {
	for _, l := range e.fc.Listeners {
		var (
			fd  int
			err error
		)
		if l.WebSocket {
			fd, err = e.ws.ListenCompressed(l.Host, l.Port, l.Compression)
		} else {
			fd, err = e.srv.Listen(l.Host, l.Port, server.Hooks{})
		}
		if err != nil {
			return fmt.Errorf("listen %s:%d: %w", l.Host, l.Port, err)
		}
		port, _ := e.srv.ListenerPort(fd)
		e.mu.Lock()
		e.ports = append(e.ports, port)
		e.mu.Unlock()
		e.log.Info("listener ready", zap.Int("fd", fd), zap.String("host", l.Host),
			zap.Uint16("port", port), zap.Bool("websocket", l.WebSocket))
	}
	return nil
}

// shutdown stops the server and WebSocket sessions, then hands the
// resulting lost-connection events to the script.
func (e *Engine) shutdown(stop context.CancelFunc) {
	stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.ws.Shutdown(ctx); err != nil {
		e.log.Warn("websocket shutdown", zap.Error(err))
	}
	<-e.srv.Done()
	e.dispatcher.RunOnce()
}

func (e *Engine) release() {
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	e.rt.Close()
}
