package jsengine

import (
	"context"
	"fmt"
	"math"

	"github.com/dop251/goja"

	"github.com/openfroyo/froyo-script/pkg/scripting"
)

func (e *Engine) unwrap(v *scripting.Value) (goja.Value, error) {
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
	jv, ok := h.V.(goja.Value)
	if !ok {
		return nil, scripting.NewBadCastError(BackendName,
			fmt.Sprintf("handle holds %T, not a JavaScript value", h.V), nil)
	}
	return jv, nil
}

// object is a measure instance owned by the JavaScript collector.
type object struct {
	engine *Engine
	obj    *goja.Object
}

func (o *object) CallMethod(ctx context.Context, method string, args ...any) (any, error) {
	e := o.engine
	if e.closed {
		return nil, scripting.NewGuestExecutionError(BackendName, method+"() failed", scripting.ErrEngineClosed)
	}

	fn, ok := goja.AssertFunction(o.obj.Get(method))
	if !ok {
		return nil, scripting.NewGuestExecutionError(BackendName,
			fmt.Sprintf("method %s() is not defined", method), nil)
	}

	jargs := make([]goja.Value, 0, len(args))
	for _, a := range args {
		jargs = append(jargs, e.vm.ToValue(a))
	}

	ret, err := func() (goja.Value, error) {
		defer e.bind(ctx)()
		return fn(o.obj, jargs...)
	}()
	if err != nil {
		return nil, e.guestError(method, err)
	}

	var exported any
	if ret != nil && !goja.IsUndefined(ret) && !goja.IsNull(ret) {
		exported = ret.Export()
	}
	out, err := normalize(exported, 0)
	if err != nil {
		return nil, scripting.NewBadCastError(BackendName, "cannot convert "+method+"() result", err)
	}
	return out, nil
}

// Release does nothing; the collector owns the instance.
func (o *object) Release() {}

const maxDepth = 64

// normalize converts exported JavaScript data to the host value set.
// Integral numbers become int64 whether the runtime stored them as integers
// or doubles.
func normalize(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}

	switch x := v.(type) {
	case nil, bool, string, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), nil
		}
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			n, err := normalize(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			n, err := normalize(item, depth+1)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported guest value of type %T", v)
}
