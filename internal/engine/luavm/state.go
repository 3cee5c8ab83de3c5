// Package luavm binds engine.Engine to an embedded gopher-lua state.
package luavm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/luamq/internal/engine"
	"github.com/danmuck/luamq/internal/value"
	lua "github.com/yuin/gopher-lua"
)

var ErrClosed = errors.New("luavm: state closed")

// Options configures a new State.
type Options struct {
	// Libs lists the standard libraries to open. Nil opens DefaultLibs.
	Libs []string
	// CallStackSize and RegistrySize pass through to gopher-lua; zero keeps
	// its defaults.
	CallStackSize int
	RegistrySize  int
	// Limits bounds conversion of results read off the stack.
	Limits Limits
}

// DefaultLibs are the libraries a bridged script gets without extra config.
var DefaultLibs = []string{"base", "package", "table", "string", "math", "os"}

var libOpeners = map[string]struct {
	name string
	open lua.LGFunction
}{
	"base":      {lua.BaseLibName, lua.OpenBase},
	"package":   {lua.LoadLibName, lua.OpenPackage},
	"table":     {lua.TabLibName, lua.OpenTable},
	"string":    {lua.StringLibName, lua.OpenString},
	"math":      {lua.MathLibName, lua.OpenMath},
	"os":        {lua.OsLibName, lua.OpenOs},
	"io":        {lua.IoLibName, lua.OpenIo},
	"debug":     {lua.DebugLibName, lua.OpenDebug},
	"coroutine": {lua.CoroutineLibName, lua.OpenCoroutine},
	"channel":   {lua.ChannelLibName, lua.OpenChannel},
}

// State is a gopher-lua runtime implementing engine.Engine. Not safe for
// concurrent use.
type State struct {
	L *lua.LState
	// builtins are the globals present once the libraries were opened.
	builtins map[string]lua.LValue
	limits   Limits
}

var _ engine.Engine = (*State)(nil)

// New creates a state with the configured standard libraries open.
func New(opts Options) (*State, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: opts.CallStackSize,
		RegistrySize:  opts.RegistrySize,
	})
	libs := opts.Libs
	if libs == nil {
		libs = DefaultLibs
	}
	for _, name := range libs {
		lib, ok := libOpeners[name]
		if !ok {
			L.Close()
			return nil, fmt.Errorf("luavm: unknown library %q", name)
		}
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("luavm: open %s: %w", name, err)
		}
	}
	builtins := make(map[string]lua.LValue)
	L.G.Global.ForEach(func(k, v lua.LValue) {
		if name, ok := k.(lua.LString); ok {
			builtins[string(name)] = v
		}
	})
	return &State{L: L, builtins: builtins, limits: opts.Limits}, nil
}

// Close releases the Lua state.
func (s *State) Close() {
	if s.L != nil {
		s.L.Close()
		s.L = nil
	}
}

// LoadFile runs a script file, typically one that defines global functions.
func (s *State) LoadFile(path string) error {
	if s.L == nil {
		return ErrClosed
	}
	if err := s.L.DoFile(path); err != nil {
		return fmt.Errorf("luavm: load %s: %w", path, err)
	}
	return nil
}

// LoadString runs a chunk of Lua source.
func (s *State) LoadString(src string) error {
	if s.L == nil {
		return ErrClosed
	}
	if err := s.L.DoString(src); err != nil {
		return fmt.Errorf("luavm: load chunk: %w", err)
	}
	return nil
}

// Register exposes fn as a global function.
func (s *State) Register(name string, fn lua.LGFunction) {
	s.L.SetGlobal(name, s.L.NewFunction(fn))
}

// SetGlobal stores v under name.
func (s *State) SetGlobal(name string, v value.Value) {
	s.L.SetGlobal(name, ToLua(s.L, v))
}

// Functions lists global names bound to functions, sorted. Library
// functions are left out unless a script replaced them.
func (s *State) Functions() []string {
	names := make([]string, 0)
	s.L.G.Global.ForEach(func(k, v lua.LValue) {
		if v.Type() != lua.LTFunction {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if builtin, ok := s.builtins[string(name)]; ok && builtin == v {
			return
		}
		names = append(names, string(name))
	})
	sort.Strings(names)
	return names
}

func (s *State) Top() int {
	return s.L.GetTop()
}

func (s *State) SetTop(n int) {
	s.L.SetTop(n)
}

func (s *State) Push(v value.Value) {
	s.L.Push(ToLua(s.L, v))
}

func (s *State) Get(idx int) (value.Value, error) {
	v, err := FromLua(s.L.Get(idx), s.limits)
	if err != nil {
		return nil, fmt.Errorf("stack slot %d: %w", idx, err)
	}
	return v, nil
}

func (s *State) PushGlobal(name string) bool {
	fn := s.L.GetGlobal(name)
	if fn == lua.LNil {
		return false
	}
	s.L.Push(fn)
	return true
}

func (s *State) Call(nargs int) (int, error) {
	base := s.L.GetTop() - nargs - 1
	if base < 0 {
		return 0, fmt.Errorf("%w: nargs=%d top=%d", engine.ErrStackUnderflow, nargs, s.L.GetTop())
	}
	if err := s.L.PCall(nargs, lua.MultRet, nil); err != nil {
		s.L.SetTop(base)
		return 0, &engine.CallError{Message: errorMessage(err)}
	}
	return s.L.GetTop() - base, nil
}

// errorMessage returns the raised Lua value as text, without traceback.
func errorMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}
