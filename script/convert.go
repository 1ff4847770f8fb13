// File: script/convert.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Go <-> Lua value conversion.

package script

import (
	"encoding/json"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/momentics/hioload-lua/core/concurrency"
)

// ToLua converts a decoded payload into a Lua value.
func ToLua(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int8:
		return lua.LNumber(v)
	case int16:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint:
		return lua.LNumber(v)
	case uint8:
		return lua.LNumber(v)
	case uint16:
		return lua.LNumber(v)
	case uint32:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return lua.LNumber(i)
		}
		f, _ := v.Float64()
		return lua.LNumber(f)
	case []any:
		t := L.CreateTable(len(v), 0)
		for i, item := range v {
			t.RawSetInt(i+1, ToLua(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(v), 0)
		for i, item := range v {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(v))
		for k, item := range v {
			t.RawSetString(k, ToLua(L, item))
		}
		return t
	case map[any]any:
		t := L.CreateTable(0, len(v))
		for k, item := range v {
			t.RawSet(ToLua(L, k), ToLua(L, item))
		}
		return t
	default:
		if v == concurrency.Null {
			return lua.LNil
		}
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// FromLua converts a Lua value into plain Go data suitable for a codec.
// Integral numbers become int64; sequences become []any; other tables
// become map[string]any.
func FromLua(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		if isSequence(v) {
			out := make([]any, 0, v.Len())
			for i := 1; i <= v.Len(); i++ {
				out = append(out, FromLua(v.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			out[k.String()] = FromLua(val)
		})
		return out
	default:
		return lv.String()
	}
}

// isSequence reports whether t only has keys 1..n. The empty table counts.
func isSequence(t *lua.LTable) bool {
	n := t.Len()
	count := 0
	seq := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		num, ok := k.(lua.LNumber)
		if !ok {
			seq = false
			return
		}
		idx := int(num)
		if float64(idx) != float64(num) || idx < 1 || idx > n {
			seq = false
		}
	})
	return seq && count == n
}
