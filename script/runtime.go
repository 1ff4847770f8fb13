// File: script/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime owns the Lua state. It is not safe for concurrent use: every call
// must come from the script goroutine.

package script

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ErrNoEntry reports that a global function is not defined by the script.
var ErrNoEntry = errors.New("script entry point not defined")

// Runtime wraps a single Lua state.
type Runtime struct {
	L   *lua.LState
	log *zap.Logger
}

// NewRuntime creates a Lua state with the standard libraries opened.
func NewRuntime(log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		L:   lua.NewState(),
		log: log,
	}
}

// LoadFile executes a script file.
func (r *Runtime) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("load script %s: %w", path, err)
	}
	r.log.Info("script loaded", zap.String("path", path))
	return nil
}

// LoadString executes a chunk of code.
func (r *Runtime) LoadString(code string) error {
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("run string: %w", err)
	}
	return nil
}

// HasFunction reports whether name is a global function.
func (r *Runtime) HasFunction(name string) bool {
	_, ok := r.L.GetGlobal(name).(*lua.LFunction)
	return ok
}

// Call invokes a global function in protected mode, discarding results.
func (r *Runtime) Call(name string, args ...lua.LValue) error {
	fn, ok := r.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNoEntry)
	}
	top := r.L.GetTop()
	defer r.L.SetTop(top)
	if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Close releases the Lua state.
func (r *Runtime) Close() {
	r.L.Close()
}
