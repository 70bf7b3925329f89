package starlarkengine

import (
	"context"
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/froyo-script/pkg/scripting"
)

func (e *Engine) unwrap(v *scripting.Value) (starlark.Value, error) {
	if !v.Valid() {
		return nil, scripting.NewBadCastError(BackendName, "cannot convert value", scripting.ErrInertValue)
	}
	h, ok := v.Handle().(scripting.GCHandle)
	if !ok || v.Backend() != BackendName {
		return nil, scripting.NewBadCastError(BackendName,
			fmt.Sprintf("value belongs to backend %q", v.Backend()), nil)
	}
	if e.closed {
		return nil, scripting.NewBadCastError(BackendName, "cannot convert value", scripting.ErrEngineClosed)
	}
	sv, ok := h.V.(starlark.Value)
	if !ok {
		return nil, scripting.NewBadCastError(BackendName,
			fmt.Sprintf("handle holds %T, not a Starlark value", h.V), nil)
	}
	return sv, nil
}

// object is a measure instance owned by the Starlark collector.
type object struct {
	engine *Engine
	inst   *instance
}

func (o *object) CallMethod(ctx context.Context, method string, args ...any) (any, error) {
	e := o.engine
	if e.closed {
		return nil, scripting.NewGuestExecutionError(BackendName, method+"() failed", scripting.ErrEngineClosed)
	}

	fn, err := o.inst.Attr(method)
	if err != nil || fn == nil {
		return nil, scripting.NewGuestExecutionError(BackendName,
			fmt.Sprintf("method %s() is not defined", method), err)
	}

	sargs := make(starlark.Tuple, 0, len(args))
	for _, a := range args {
		sv, err := toStarlarkValue(a)
		if err != nil {
			return nil, scripting.NewBadCastError(BackendName, "cannot pass argument to "+method+"()", err)
		}
		sargs = append(sargs, sv)
	}

	thread, done := e.newThread(ctx, method)
	defer done()

	ret, err := starlark.Call(thread, fn, sargs, nil)
	if err != nil {
		return nil, e.guestError(method, err)
	}
	out, err := fromStarlarkValue(ret, 0)
	if err != nil {
		return nil, scripting.NewBadCastError(BackendName, "cannot convert "+method+"() result", err)
	}
	return out, nil
}

// Release does nothing; the collector owns the instance.
func (o *object) Release() {}

const maxDepth = 64

// toStarlarkValue converts a host value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case starlark.Value:
		return val, nil
	}
	return nil, fmt.Errorf("unsupported type: %T", v)
}

// fromStarlarkValue converts a Starlark value to a host value. Integral
// floats become int64 so results compare the same across backends.
func fromStarlarkValue(v starlark.Value, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}

	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return sequence(val, depth)
	case starlark.Tuple:
		return sequence(val, depth)
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1], depth+1)
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr, depth+1)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	}
	return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
}

func sequence(seq starlark.Indexable, depth int) ([]any, error) {
	list := make([]any, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

// resolve looks up a dotted name in env, following attributes.
func resolve(env starlark.StringDict, path string) (starlark.Value, error) {
	var cur starlark.Value
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		part := path[start:i]
		start = i + 1

		if cur == nil {
			v, ok := env[part]
			if !ok {
				return nil, fmt.Errorf("undefined: %s", part)
			}
			cur = v
			continue
		}
		attrs, ok := cur.(starlark.HasAttrs)
		if !ok {
			return nil, fmt.Errorf("%s has no attribute %s", cur.Type(), part)
		}
		next, err := attrs.Attr(part)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("%s has no attribute %s", cur.Type(), part)
		}
		cur = next
	}
	return cur, nil
}
