package luaengine

import (
	"context"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/openfroyo/froyo-script/pkg/scripting"
)

// handle is a reference-counted Lua value. Constructing or cloning a handle
// adds one to the object's count in openstudio.__refs; releasing subtracts
// one and drops the entry at zero.
type handle struct {
	engine *Engine
	value  lua.LValue
}

func (h *handle) Clone() scripting.Handle {
	h.engine.pin(h.value)
	return &handle{engine: h.engine, value: h.value}
}

func (h *handle) Release() {
	h.engine.unpin(h.value)
}

// wrap pins lv and returns it as an owned value.
func (e *Engine) wrap(lv lua.LValue) *scripting.Value {
	e.pin(lv)
	return scripting.NewValue(BackendName, &handle{engine: e, value: lv})
}

func (e *Engine) unwrap(v *scripting.Value) (lua.LValue, error) {
	if !v.Valid() {
		return nil, scripting.NewBadCastError(BackendName, "cannot convert value", scripting.ErrInertValue)
	}
	h, ok := v.Handle().(*handle)
	if !ok || h.engine != e {
		return nil, scripting.NewBadCastError(BackendName,
			fmt.Sprintf("value belongs to backend %q", v.Backend()), nil)
	}
	if e.closed {
		return nil, scripting.NewBadCastError(BackendName, "cannot convert value", scripting.ErrEngineClosed)
	}
	return h.value, nil
}

// pinnable reports whether lv is a collectable object. Scalars are copied
// by value and need no reference.
func pinnable(lv lua.LValue) bool {
	switch lv.Type() {
	case lua.LTTable, lua.LTFunction, lua.LTUserData, lua.LTThread:
		return true
	}
	return false
}

func (e *Engine) pin(lv lua.LValue) {
	if e.closed || e.refs == nil || !pinnable(lv) {
		return
	}
	n, _ := e.refs.RawGet(lv).(lua.LNumber)
	e.refs.RawSet(lv, n+1)
}

func (e *Engine) unpin(lv lua.LValue) {
	if e.closed || e.refs == nil || !pinnable(lv) {
		return
	}
	n, _ := e.refs.RawGet(lv).(lua.LNumber)
	if n <= 1 {
		e.refs.RawSet(lv, lua.LNil)
		return
	}
	e.refs.RawSet(lv, n-1)
}

// object is a pinned measure instance.
type object struct {
	engine *Engine
	table  *lua.LTable
}

func (o *object) CallMethod(ctx context.Context, method string, args ...any) (any, error) {
	e := o.engine
	if e.closed {
		return nil, scripting.NewGuestExecutionError(BackendName, method+"() failed", scripting.ErrEngineClosed)
	}

	fn := e.L.GetField(o.table, method)
	if fn.Type() != lua.LTFunction {
		return nil, scripting.NewGuestExecutionError(BackendName,
			fmt.Sprintf("method %s() is not defined", method), nil)
	}

	largs := make([]lua.LValue, 0, len(args)+1)
	largs = append(largs, o.table)
	for _, a := range args {
		lv, err := toLua(e.L, a)
		if err != nil {
			return nil, scripting.NewBadCastError(BackendName, "cannot pass argument to "+method+"()", err)
		}
		largs = append(largs, lv)
	}

	ret, err := e.call(ctx, fn, largs...)
	if err != nil {
		return nil, e.guestError(method, err)
	}
	out, err := fromLua(ret, 0)
	if err != nil {
		return nil, scripting.NewBadCastError(BackendName, "cannot convert "+method+"() result", err)
	}
	return out, nil
}

func (o *object) Release() {
	o.engine.unpin(o.table)
}

const maxDepth = 64

// toLua converts a host value to a Lua value.
func toLua(L *lua.LState, v any) (lua.LValue, error) {
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(x), nil
	case string:
		return lua.LString(x), nil
	case int:
		return lua.LNumber(x), nil
	case int32:
		return lua.LNumber(x), nil
	case int64:
		return lua.LNumber(x), nil
	case float32:
		return lua.LNumber(x), nil
	case float64:
		return lua.LNumber(x), nil
	case []string:
		tbl := L.NewTable()
		for _, s := range x {
			tbl.Append(lua.LString(s))
		}
		return tbl, nil
	case []any:
		tbl := L.NewTable()
		for _, item := range x {
			lv, err := toLua(L, item)
			if err != nil {
				return nil, err
			}
			tbl.Append(lv)
		}
		return tbl, nil
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range x {
			lv, err := toLua(L, item)
			if err != nil {
				return nil, err
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	case lua.LValue:
		return x, nil
	}
	return nil, fmt.Errorf("unsupported host type %T", v)
}

// fromLua converts a Lua value to a host value. Integral numbers become
// int64; tables with only keys 1..n become []any, other tables
// map[string]any.
func fromLua(lv lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}

	switch x := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LString:
		return string(x), nil
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case *lua.LTable:
		return tableToHost(x, depth)
	}
	return nil, fmt.Errorf("cannot convert Lua %s", lv.Type())
}

func tableToHost(tbl *lua.LTable, depth int) (any, error) {
	n := tbl.MaxN()
	count := 0
	tbl.ForEach(func(_, _ lua.LValue) { count++ })

	if count == n {
		list := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := fromLua(tbl.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	}

	out := make(map[string]any, count)
	var convErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		var key string
		switch kk := k.(type) {
		case lua.LString:
			key = string(kk)
		case lua.LNumber:
			key = kk.String()
		default:
			convErr = fmt.Errorf("unsupported table key type %s", k.Type())
			return
		}
		item, err := fromLua(v, depth+1)
		if err != nil {
			convErr = err
			return
		}
		out[key] = item
	})
	if convErr != nil {
		return nil, convErr
	}
	return out, nil
}
