// Package luamethod serves Lua scripts as JSON-RPC methods.
//
// A script sees the call through globals:
//
//	In.Method     the method name
//	In.Params     params as a table (nil when absent)
//	Out.Result    set to the result value
//	Out.Error     set to {code=..., message=..., data=...} to fail the call
//	Log.Debug/Info/Warn/Error(msg)
//
// A value returned from the chunk takes precedence over Out.Result. Each
// call runs in a fresh Lua state with the base, table, string and math
// libraries; file loading is disabled. The state is bound to the request
// context, so a cancelled call stops the script.
package luamethod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
)

// Script is a compiled Lua chunk.
type Script struct {
	name   string
	proto  *lua.FunctionProto
	logger *slog.Logger
}

// Compile compiles source as the method name.
func Compile(name, source string) (*Script, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("luamethod: parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("luamethod: compile %s: %w", name, err)
	}
	return &Script{name: name, proto: proto, logger: slog.Default()}, nil
}

// LoadFile compiles the file at path. The method name is the file name
// without its .lua extension, so "math.double.lua" serves "math.double".
func LoadFile(path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("luamethod: %w", err)
	}
	return Compile(strings.TrimSuffix(filepath.Base(path), ".lua"), string(src))
}

// LoadDir compiles every *.lua file in dir, sorted by name. Files whose
// names start with "_" are skipped.
func LoadDir(dir string) ([]*Script, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, fmt.Errorf("luamethod: %w", err)
	}
	sort.Strings(paths)

	var scripts []*Script
	for _, p := range paths {
		if strings.HasPrefix(filepath.Base(p), "_") {
			continue
		}
		s, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Name returns the method name.
func (s *Script) Name() string {
	return s.name
}

// WithLogger returns s logging script output to logger.
func (s *Script) WithLogger(logger *slog.Logger) *Script {
	cp := *s
	if logger != nil {
		cp.logger = logger
	}
	return &cp
}

// Invoke implements jsonrpc.Handler.
func (s *Script) Invoke(ctx context.Context, params jsonrpc.Params) (any, error) {
	var in any
	if err := params.Decode(&in); err != nil {
		return nil, err
	}

	L := newState()
	defer L.Close()
	L.SetContext(ctx)

	L.SetGlobal("In", s.inTable(L, in))
	out := L.NewTable()
	L.SetGlobal("Out", out)
	L.SetGlobal("Log", s.logTable(ctx, L))

	top := L.GetTop()
	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			if tbl, ok := apiErr.Object.(*lua.LTable); ok {
				return nil, s.toRPCError(tbl)
			}
		}
		s.logger.ErrorContext(ctx, "luamethod: script failed",
			slog.String("script", s.name),
			slog.Any("error", err))
		return nil, jsonrpc.InternalError(scriptError(err))
	}

	if e := out.RawGetString("Error"); e != lua.LNil {
		return nil, s.toRPCError(e)
	}

	result := out.RawGetString("Result")
	if L.GetTop() > top {
		if ret := L.Get(top + 1); ret != lua.LNil {
			result = ret
		}
	}
	v, err := fromLua(result)
	if err != nil {
		return nil, jsonrpc.InternalError(fmt.Sprintf("%s: result: %v", s.name, err))
	}
	return v, nil
}

func (s *Script) inTable(L *lua.LState, params any) *lua.LTable {
	in := L.NewTable()
	in.RawSetString("Method", lua.LString(s.name))
	in.RawSetString("Params", toLua(L, params))
	return in
}

func (s *Script) logTable(ctx context.Context, L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	for name, level := range map[string]slog.Level{
		"Debug": slog.LevelDebug,
		"Info":  slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"Error": slog.LevelError,
	} {
		tbl.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			s.logger.Log(ctx, level, L.ToString(1), slog.String("script", s.name))
			return 0
		}))
	}
	return tbl
}

// toRPCError converts Out.Error or a table raised with error(). A table
// supplies code, message and data; a string is used as the message. The
// code defaults to CodeServerError.
func (s *Script) toRPCError(v lua.LValue) error {
	rpcErr := jsonrpc.NewError(jsonrpc.CodeServerError, "Script error")
	switch v := v.(type) {
	case lua.LString:
		rpcErr.Message = string(v)
	case *lua.LTable:
		if c, ok := v.RawGetString("code").(lua.LNumber); ok {
			rpcErr.Code = int(c)
		}
		if m, ok := v.RawGetString("message").(lua.LString); ok && m != "" {
			rpcErr.Message = string(m)
		}
		if d := v.RawGetString("data"); d != lua.LNil {
			data, err := fromLua(d)
			if err != nil {
				return jsonrpc.InternalError(fmt.Sprintf("%s: error data: %v", s.name, err))
			}
			rpcErr.Data = data
		}
	default:
		return jsonrpc.InternalError(fmt.Sprintf("%s: Out.Error must be a table or string", s.name))
	}
	return rpcErr
}

func scriptError(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range safeLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// Register adds every script to b under its name.
func Register(b *jsonrpc.Builder, scripts []*Script) error {
	for _, s := range scripts {
		if err := b.Register(s.name, s); err != nil {
			return fmt.Errorf("luamethod: %s: %w", s.name, err)
		}
	}
	return nil
}

var _ jsonrpc.Handler = (*Script)(nil)
