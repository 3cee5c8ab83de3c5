package luavm

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/luamq/internal/value"
	lua "github.com/yuin/gopher-lua"
)

var (
	ErrTooDeep  = errors.New("luavm: table nesting too deep")
	ErrTooLarge = errors.New("luavm: table graph too large")
)

// ToLua builds the Lua counterpart of v. Arrays become 1-based sequence
// tables. Map entries with a nil or NaN key are dropped since Lua tables
// cannot hold them.
func ToLua(L *lua.LState, v value.Value) lua.LValue {
	switch tv := v.(type) {
	case nil, value.Nil:
		return lua.LNil
	case value.Bool:
		return lua.LBool(tv)
	case value.Number:
		return lua.LNumber(tv)
	case value.String:
		return lua.LString(tv)
	case value.Array:
		tbl := L.CreateTable(len(tv), 0)
		for i, item := range tv {
			tbl.RawSetInt(i+1, ToLua(L, item))
		}
		return tbl
	case value.Map:
		tbl := L.CreateTable(0, len(tv))
		for _, p := range tv {
			key := ToLua(L, p.Key)
			if key == lua.LNil {
				continue
			}
			if n, ok := key.(lua.LNumber); ok && math.IsNaN(float64(n)) {
				continue
			}
			tbl.RawSet(key, ToLua(L, p.Val))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// Limits bounds one Lua to value conversion. Shared subtables are copied
// each time they are reached, so MaxNodes is what caps a table graph that
// doubles at every level.
type Limits struct {
	MaxDepth int
	MaxNodes int
}

const (
	DefaultMaxDepth = 64
	DefaultMaxNodes = 1 << 20
)

func (l Limits) withDefaults() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = DefaultMaxNodes
	}
	return l
}

// FromLua converts a Lua value. Tables always become value.Map; a table
// reached again through its own contents is cut to Nil.
func FromLua(lv lua.LValue, lim Limits) (value.Value, error) {
	c := converter{lim: lim.withDefaults(), path: make(map[*lua.LTable]struct{})}
	return c.convert(lv, 1)
}

type converter struct {
	lim   Limits
	path  map[*lua.LTable]struct{}
	nodes int
}

func (c *converter) convert(lv lua.LValue, depth int) (value.Value, error) {
	c.nodes++
	if c.nodes > c.lim.MaxNodes {
		return nil, fmt.Errorf("%w: more than %d values", ErrTooLarge, c.lim.MaxNodes)
	}
	switch v := lv.(type) {
	case nil:
		return value.Nil{}, nil
	case *lua.LNilType:
		return value.Nil{}, nil
	case lua.LBool:
		return value.Bool(v), nil
	case lua.LNumber:
		return value.Number(v), nil
	case lua.LString:
		return value.String(v), nil
	case *lua.LTable:
		if _, ok := c.path[v]; ok {
			return value.Nil{}, nil
		}
		if depth > c.lim.MaxDepth {
			return nil, fmt.Errorf("%w: more than %d levels", ErrTooDeep, c.lim.MaxDepth)
		}
		c.path[v] = struct{}{}
		defer delete(c.path, v)
		out := make(value.Map, 0, v.Len())
		var err error
		v.ForEach(func(k, item lua.LValue) {
			if err != nil {
				return
			}
			var key, val value.Value
			if key, err = c.convert(k, depth+1); err != nil {
				return
			}
			if val, err = c.convert(item, depth+1); err != nil {
				return
			}
			out = append(out, value.Pair{Key: key, Val: val})
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return value.Opaque{TypeName: lv.Type().String()}, nil
	}
}
