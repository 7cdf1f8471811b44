package luamethod

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a value decoded by encoding/json into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		tbl := L.CreateTable(len(v), 0)
		for i, e := range v {
			tbl.RawSetInt(i+1, toLua(L, e))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(v))
		for k, e := range v {
			tbl.RawSetString(k, toLua(L, e))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// fromLua converts a Lua value into a value encoding/json can marshal.
//
// Tables whose keys are exactly 1..n become arrays; any other non-empty
// table becomes an object with stringified keys. An empty table becomes an
// empty object. Integral numbers become int64.
func fromLua(v lua.LValue) (any, error) {
	return fromLuaDepth(v, 0)
}

const maxDepth = 64

func fromLuaDepth(v lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LString:
		return string(v), nil
	case lua.LNumber:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("number %v has no JSON representation", f)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case *lua.LTable:
		return tableFromLua(v, depth)
	default:
		return nil, fmt.Errorf("cannot convert Lua %s to JSON", v.Type())
	}
}

func tableFromLua(tbl *lua.LTable, depth int) (any, error) {
	n := tbl.MaxN()
	count := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			e, err := fromLuaDepth(tbl.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr[i-1] = e
		}
		return arr, nil
	}

	obj := make(map[string]any, count)
	var firstErr error
	tbl.ForEach(func(k, e lua.LValue) {
		if firstErr != nil {
			return
		}
		key := k.String()
		val, err := fromLuaDepth(e, depth+1)
		if err != nil {
			firstErr = fmt.Errorf("%s: %w", key, err)
			return
		}
		obj[key] = val
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return obj, nil
}
