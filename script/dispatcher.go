// File: script/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatcher drains the command queue on the script goroutine and calls the
// matching script entry point for every event.

package script

import (
	"context"
	"errors"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/codec"
	"github.com/momentics/hioload-lua/core/concurrency"
	"github.com/momentics/hioload-lua/core/protocol"
)

// Metric keys maintained by the dispatcher.
const (
	MetricDispatched     = "script.dispatched"
	MetricDispatchErrors = "script.dispatch_errors"
)

// Async result messages handed to scripts.
const (
	MissingErrorDetail = "err msg detail miss"
	DecodeFailed       = "analyse data failed"
	StatusDecodeFailed = -2
)

// EntryPoints names the global functions events are delivered to.
type EntryPoints struct {
	NewConnection  string // (id, fd, ip, port, websocket)
	LostConnection string // (fd, reason)
	Message        string // (fd, name, payload, raw_frame)
	MessageError   string // (fd, -2, reason)
	AsyncResult    string // (id, status, err_or_payload)
	CacheResult    string
	DBResult       string
	RunString      string // (code)
}

// DefaultEntryPoints returns the standard entry point names.
func DefaultEntryPoints() EntryPoints {
	return EntryPoints{
		NewConnection:  "cmd_new_connection",
		LostConnection: "cmd_connection_lost",
		Message:        "global_dispatch_command",
		MessageError:   "cmd_message_error",
		AsyncResult:    "msg_async_result",
		CacheResult:    "msg_redis_result",
		DBResult:       "msg_db_result",
		RunString:      "RUN_STRING",
	}
}

// Override replaces names from a config map keyed by
// new_connection, lost_connection, message, message_error, async_result,
// cache_result, db_result and run_string.
func (e EntryPoints) Override(m map[string]string) EntryPoints {
	set := func(dst *string, key string) {
		if v, ok := m[key]; ok && v != "" {
			*dst = v
		}
	}
	set(&e.NewConnection, "new_connection")
	set(&e.LostConnection, "lost_connection")
	set(&e.Message, "message")
	set(&e.MessageError, "message_error")
	set(&e.AsyncResult, "async_result")
	set(&e.CacheResult, "cache_result")
	set(&e.DBResult, "db_result")
	set(&e.RunString, "run_string")
	return e
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithEntryPoints(e EntryPoints) DispatcherOption {
	return func(d *Dispatcher) { d.entries = e }
}

func WithDispatchLogger(log *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

func WithDispatchMetrics(m api.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Dispatcher is the single consumer of a CommandQueue.
type Dispatcher struct {
	rt      *Runtime
	queue   *concurrency.CommandQueue
	codec   codec.Codec
	entries EntryPoints
	log     *zap.Logger
	metrics api.Metrics

	dispatching bool
	pending     []concurrency.Event
}

// NewDispatcher builds a dispatcher for rt consuming queue.
func NewDispatcher(rt *Runtime, queue *concurrency.CommandQueue, c codec.Codec, opts ...DispatcherOption) *Dispatcher {
	if c == nil {
		c = codec.JSON{}
	}
	d := &Dispatcher{
		rt:      rt,
		queue:   queue,
		codec:   c,
		entries: DefaultEntryPoints(),
		log:     zap.NewNop(),
		metrics: api.NopMetrics{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Runtime returns the Lua runtime driven by d.
func (d *Dispatcher) Runtime() *Runtime { return d.rt }

// Codec returns the payload codec.
func (d *Dispatcher) Codec() codec.Codec { return d.codec }

// Post enqueues an event from the script goroutine. Events posted while a
// cycle is running are held back and merged after it, so a cycle never
// sees its own output.
func (d *Dispatcher) Post(ev concurrency.Event) {
	if d.dispatching {
		d.pending = append(d.pending, ev)
		return
	}
	d.queue.Enqueue(ev)
}

// RunOnce drains the queue and dispatches every event in order. It returns
// the number of events handled.
func (d *Dispatcher) RunOnce() int {
	events := d.queue.DrainAll()
	if len(events) == 0 && len(d.pending) == 0 {
		return 0
	}
	d.dispatching = true
	for _, ev := range events {
		d.dispatch(ev)
	}
	d.dispatching = false

	held := d.pending
	d.pending = nil
	for _, ev := range held {
		d.queue.Enqueue(ev)
	}
	return len(events)
}

// Run dispatches on every tick of interval and whenever the queue signals
// new work, until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.RunOnce()
			return nil
		case <-ticker.C:
			d.RunOnce()
		case <-d.queue.Notify():
			d.RunOnce()
		}
	}
}

func (d *Dispatcher) dispatch(ev concurrency.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.Add(MetricDispatchErrors, 1)
			d.log.Error("dispatch panic", zap.Stringer("kind", ev.Kind()), zap.Any("panic", r))
		}
	}()

	L := d.rt.L
	var err error
	switch e := ev.(type) {
	case concurrency.NewConnection:
		err = d.rt.Call(d.entries.NewConnection,
			lua.LNumber(e.ID), lua.LNumber(e.Descriptor), lua.LString(e.PeerIP),
			lua.LNumber(e.Port), lua.LBool(e.WebSocket))
	case concurrency.LostConnection:
		err = d.rt.Call(d.entries.LostConnection, lua.LNumber(e.Descriptor), lua.LString(e.Reason))
	case concurrency.InboundMessage:
		err = d.dispatchMessage(L, e)
	case concurrency.AsyncResult:
		entry := e.Entry
		if entry == "" {
			entry = d.entries.AsyncResult
		}
		err = d.rt.Call(entry, d.asyncArgs(L, e)...)
	case concurrency.Invocation:
		err = d.dispatchInvocation(e)
	default:
		d.log.Warn("unknown event", zap.Stringer("kind", ev.Kind()))
		return
	}

	d.metrics.Add(MetricDispatched, 1)
	if err != nil {
		if errors.Is(err, ErrNoEntry) {
			d.log.Debug("event dropped", zap.Stringer("kind", ev.Kind()), zap.Error(err))
			return
		}
		d.metrics.Add(MetricDispatchErrors, 1)
		d.log.Error("script error", zap.Stringer("kind", ev.Kind()), zap.Error(err))
	}
}

func (d *Dispatcher) dispatchMessage(L *lua.LState, e concurrency.InboundMessage) error {
	name, payload, err := d.codec.DecodeMessage(protocol.Body(e.Frame))
	if err != nil {
		return d.rt.Call(d.entries.MessageError,
			lua.LNumber(e.Descriptor), lua.LNumber(StatusDecodeFailed), lua.LString(err.Error()))
	}
	return d.rt.Call(d.entries.Message,
		lua.LNumber(e.Descriptor), lua.LString(name), ToLua(L, payload), lua.LString(e.Frame))
}

// asyncArgs builds (id, status, err_or_payload).
func (d *Dispatcher) asyncArgs(L *lua.LState, e concurrency.AsyncResult) []lua.LValue {
	id := lua.LNumber(e.CorrelationID)
	if e.Status != 0 {
		msg := e.Message
		if msg == "" {
			msg = MissingErrorDetail
		}
		return []lua.LValue{id, lua.LNumber(e.Status), lua.LString(msg)}
	}
	if e.Value != nil {
		return []lua.LValue{id, lua.LNumber(0), ToLua(L, e.Value)}
	}
	if len(e.Payload) > 0 {
		v, err := d.codec.DecodeValue(e.Payload)
		if err != nil {
			return []lua.LValue{id, lua.LNumber(StatusDecodeFailed), lua.LString(DecodeFailed)}
		}
		return []lua.LValue{id, lua.LNumber(0), ToLua(L, v)}
	}
	return []lua.LValue{id, lua.LNumber(0), L.NewTable()}
}

func (d *Dispatcher) dispatchInvocation(e concurrency.Invocation) error {
	if e.Name == d.entries.RunString {
		code := strings.Join(e.Args, " ")
		if d.rt.HasFunction(d.entries.RunString) {
			return d.rt.Call(d.entries.RunString, lua.LString(code))
		}
		return d.rt.LoadString(code)
	}
	args := make([]lua.LValue, len(e.Args))
	for i, a := range e.Args {
		args[i] = lua.LString(a)
	}
	return d.rt.Call(e.Name, args...)
}
