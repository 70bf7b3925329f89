package scripting

import (
	"context"
	"fmt"
	"strings"
)

// fakeObject is a guest object in the fake backend.
type fakeObject struct {
	class  string
	bases  []string
	native any
}

// fakeEngine is an in-memory backend: Exec stores "name=value" assignments,
// Eval returns stored objects or quoted string literals.
type fakeEngine struct {
	types   *TypeRegistry
	globals map[string]any
	closed  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		types:   NewTypeRegistry("fake"),
		globals: make(map[string]any),
	}
}

func (f *fakeEngine) Kind() string { return "fake" }

func (f *fakeEngine) Exec(ctx context.Context, source string) error {
	if f.closed > 0 {
		return NewGuestExecutionError("fake", "exec failed", ErrEngineClosed)
	}
	name, value, ok := strings.Cut(source, "=")
	if !ok {
		return NewGuestExecutionError("fake", "exec failed", fmt.Errorf("syntax error near %q", source))
	}
	f.globals[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

func (f *fakeEngine) Eval(ctx context.Context, source string) (*Value, error) {
	if f.closed > 0 {
		return nil, NewGuestExecutionError("fake", "eval failed", ErrEngineClosed)
	}
	if strings.HasPrefix(source, `"`) && strings.HasSuffix(source, `"`) && len(source) >= 2 {
		return NewValue("fake", GCHandle{V: source[1 : len(source)-1]}), nil
	}
	v, ok := f.globals[source]
	if !ok {
		return nil, NewGuestExecutionError("fake", "eval failed", fmt.Errorf("name %q is not defined", source))
	}
	return NewValue("fake", GCHandle{V: v}), nil
}

func (f *fakeEngine) Types() *TypeRegistry { return f.types }

func (f *fakeEngine) DecodeString(v *Value) (string, error) {
	if !v.Valid() {
		return "", NewBadCastError("fake", "cannot decode", ErrInertValue)
	}
	s, ok := v.Handle().(GCHandle).V.(string)
	if !ok {
		return "", NewBadCastError("fake", "value is not a string", nil)
	}
	return s, nil
}

func (f *fakeEngine) IsInstance(v *Value, typeName string) (bool, error) {
	obj, ok := v.Handle().(GCHandle).V.(*fakeObject)
	if !ok {
		return false, nil
	}
	if obj.class == typeName {
		return true, nil
	}
	for _, b := range obj.bases {
		if b == typeName {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEngine) Extract(v *Value) (any, error) {
	obj, ok := v.Handle().(GCHandle).V.(*fakeObject)
	if !ok {
		return nil, NewBadCastError("fake", "value has no host object", nil)
	}
	return obj.native, nil
}

func (f *fakeEngine) Close() error {
	f.closed++
	return nil
}

// countingHandle mirrors a reference-counted guest object.
type countingHandle struct {
	count *int
}

func newCountingHandle(count *int) countingHandle {
	*count++
	return countingHandle{count: count}
}

func (h countingHandle) Clone() Handle {
	*h.count++
	return h
}

func (h countingHandle) Release() {
	*h.count--
}
