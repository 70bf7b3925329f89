package scripting

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"
)

// Engine is the contract every interpreter backend satisfies.
//
// Calls run guest code to completion on the calling goroutine. An Engine is
// not safe for concurrent use; the host serializes calls on one instance.
// Calls on one instance observe program order in a single shared top-level
// scope.
type Engine interface {
	// Kind returns the logical backend name ("lua", "javascript", ...).
	Kind() string

	// Exec runs guest code for its side effects.
	Exec(ctx context.Context, source string) error

	// Eval evaluates a guest expression and returns its value.
	Eval(ctx context.Context, source string) (*Value, error)

	// Types returns the backend's process-wide type registry.
	Types() *TypeRegistry

	// DecodeString decodes the guest text held by v.
	DecodeString(v *Value) (string, error)

	// IsInstance reports whether the guest object held by v is of, or
	// derives from, the guest type named typeName.
	IsInstance(v *Value, typeName string) (bool, error)

	// Extract returns the host object backing the guest object held by v.
	Extract(v *Value) (any, error)

	// Close finalizes the interpreter. Further calls fail with ErrEngineClosed.
	Close() error
}

// Wrapper is implemented by engines that decorate another engine.
type Wrapper interface {
	Unwrap() Engine
}

// Unwrap peels decorators off e until it reaches the backend engine.
func Unwrap(e Engine) Engine {
	for {
		w, ok := e.(Wrapper)
		if !ok {
			return e
		}
		e = w.Unwrap()
	}
}

// BackendConfig is passed to backend factories.
type BackendConfig struct {
	// Name is the logical backend name the factory was selected by.
	Name string

	// Args are the host process arguments, exposed to guest code.
	Args []string

	// Home is the guest runtime home directory. The backend derives its
	// library search path from it and from nothing else.
	Home string

	// Logger receives guest diagnostics and lifecycle messages.
	Logger zerolog.Logger
}

// Factory constructs a backend engine.
type Factory func(cfg BackendConfig) (Engine, error)

// RegisterType records the guest type name used by GetAs[T] on e's backend.
// It returns the previously registered name when a different one is replaced.
func RegisterType[T any](e Engine, name string) (replaced string) {
	return e.Types().Register(reflect.TypeFor[T](), name)
}

// GetAs converts the guest object held by v into host type T.
//
// String targets are decoded directly. For any other T the registered guest
// type name is looked up (UnknownType if absent), the guest object is checked
// against it (BadCast if it is not an instance) and the backing host object is
// extracted (BadCast if it is not a T).
func GetAs[T any](e Engine, v *Value) (T, error) {
	var zero T
	if !v.Valid() {
		return zero, NewBadCastError(e.Kind(), "cannot convert value", ErrInertValue)
	}

	hostType := reflect.TypeFor[T]()
	if hostType == reflect.TypeFor[string]() {
		s, err := e.DecodeString(v)
		if err != nil {
			return zero, err
		}
		return any(s).(T), nil
	}

	name, err := e.Types().Lookup(hostType)
	if err != nil {
		return zero, err
	}

	ok, err := e.IsInstance(v, name)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, NewBadCastError(e.Kind(),
			fmt.Sprintf("guest value is not an instance of %s", name), nil).
			WithDetail("host_type", hostType.String())
	}

	native, err := e.Extract(v)
	if err != nil {
		return zero, err
	}
	out, ok := native.(T)
	if !ok {
		releaseNative(native)
		return zero, NewBadCastError(e.Kind(),
			fmt.Sprintf("host object %T is not a %s", native, hostType), nil).
			WithDetail("guest_type", name)
	}
	return out, nil
}

// releaseNative drops whatever an extracted host object pins in the guest.
func releaseNative(native any) {
	switch c := native.(type) {
	case interface{ Close() error }:
		_ = c.Close()
	case interface{ Close() }:
		c.Close()
	}
}
