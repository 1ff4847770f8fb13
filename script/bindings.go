// File: script/bindings.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lua modules exposed to scripts: net, cache and db.

package script

import (
	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/core/concurrency"
	"github.com/momentics/hioload-lua/core/protocol"
)

// Cache issues asynchronous cache commands; results come back as AsyncResult.
type Cache interface {
	Do(cookie uint32, args ...any) error
}

// Store issues asynchronous SQL statements; results come back as AsyncResult.
type Store interface {
	Query(cookie uint32, query string, args ...any) error
	Exec(cookie uint32, query string, args ...any) error
}

// Bindings are the collaborators reachable from scripts. Cache and Store
// are optional.
type Bindings struct {
	Router *Router
	Cache  Cache
	Store  Store
}

// Register installs the net module and, when configured, cache and db.
// Socket functions of net need a Router.
func (d *Dispatcher) Register(b Bindings) {
	L := d.rt.L
	net := map[string]lua.LGFunction{
		"post": d.luaPost,
		"uuid": luaUUID,
		"log":  d.luaLog,
	}
	if r := b.Router; r != nil {
		net["send"] = d.luaSend(r)
		net["send_raw"] = luaSendRaw(r)
		net["close"] = luaClose(r)
		net["listen"] = luaListen(r)
		net["connect"] = luaConnect(r)
	}
	L.SetGlobal("net", L.SetFuncs(L.NewTable(), net))

	if b.Cache != nil {
		L.SetGlobal("cache", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"call": luaCacheCall(b.Cache),
		}))
	}
	if b.Store != nil {
		L.SetGlobal("db", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"query": luaStore(b.Store.Query),
			"exec":  luaStore(b.Store.Exec),
		}))
	}
}

// pushResult returns true, or nil plus the error message.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// net.send(fd, name, payload)
func (d *Dispatcher) luaSend(r *Router) lua.LGFunction {
	return func(L *lua.LState) int {
		fd := L.CheckInt(1)
		name := L.CheckString(2)
		body, err := d.codec.EncodeMessage(name, FromLua(L.Get(3)))
		if err != nil {
			return pushResult(L, err)
		}
		_, err = r.Write(fd, protocol.Encode(body))
		return pushResult(L, err)
	}
}

// net.send_raw(fd, body)
func luaSendRaw(r *Router) lua.LGFunction {
	return func(L *lua.LState) int {
		fd := L.CheckInt(1)
		body := L.CheckString(2)
		_, err := r.Write(fd, protocol.Encode([]byte(body)))
		return pushResult(L, err)
	}
}

// net.close(fd [, reason])
func luaClose(r *Router) lua.LGFunction {
	return func(L *lua.LState) int {
		fd := L.CheckInt(1)
		reason := L.OptString(2, "closed by script")
		L.Push(lua.LBool(r.Close(fd, reason)))
		return 1
	}
}

// net.post(name, ...) schedules a call to a global function on a later cycle.
func (d *Dispatcher) luaPost(L *lua.LState) int {
	name := L.CheckString(1)
	args := make([]string, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.ToStringMeta(L.Get(i)).String())
	}
	d.Post(concurrency.Invocation{Name: name, Args: args})
	return 0
}

// net.log(level, message)
func (d *Dispatcher) luaLog(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	log := d.log.With(zap.String("source", "script"))
	switch level {
	case "debug":
		log.Debug(msg)
	case "warn":
		log.Warn(msg)
	case "error":
		log.Error(msg)
	default:
		log.Info(msg)
	}
	return 0
}

func luaUUID(L *lua.LState) int {
	L.Push(lua.LString(uuid.NewString()))
	return 1
}

// net.listen(host, port [, websocket]) -> fd | nil, err
func luaListen(r *Router) lua.LGFunction {
	return func(L *lua.LState) int {
		host := L.CheckString(1)
		port := L.CheckInt(2)
		fd, err := r.Listen(host, uint16(port), L.OptBool(3, false))
		return pushFd(L, fd, err)
	}
}

// net.connect(host, port) -> fd | nil, err
func luaConnect(r *Router) lua.LGFunction {
	return func(L *lua.LState) int {
		host := L.CheckString(1)
		port := L.CheckInt(2)
		fd, err := r.Connect(host, uint16(port))
		return pushFd(L, fd, err)
	}
}

func pushFd(L *lua.LState, fd int, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(fd))
	return 1
}

// cache.call(cookie, cmd, args...)
func luaCacheCall(c Cache) lua.LGFunction {
	return func(L *lua.LState) int {
		cookie := uint32(L.CheckInt(1))
		L.CheckString(2)
		args := make([]any, 0, L.GetTop()-1)
		for i := 2; i <= L.GetTop(); i++ {
			args = append(args, FromLua(L.Get(i)))
		}
		return pushResult(L, c.Do(cookie, args...))
	}
}

// db.query(cookie, sql, args...) / db.exec(cookie, sql, args...)
func luaStore(fn func(uint32, string, ...any) error) lua.LGFunction {
	return func(L *lua.LState) int {
		cookie := uint32(L.CheckInt(1))
		query := L.CheckString(2)
		args := make([]any, 0, L.GetTop()-2)
		for i := 3; i <= L.GetTop(); i++ {
			args = append(args, FromLua(L.Get(i)))
		}
		return pushResult(L, fn(cookie, query, args...))
	}
}
