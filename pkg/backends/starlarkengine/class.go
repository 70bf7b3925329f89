package starlarkengine

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// class is a guest class created by openstudio.extend. Starlark has no
// class statement, so classes are host values carrying a method table and a
// single base.
type class struct {
	name    string
	base    *class
	methods starlark.StringDict
	builtin bool
	engine  *Engine
}

var (
	_ starlark.Callable = (*class)(nil)
	_ starlark.HasAttrs = (*class)(nil)
)

func (c *class) String() string        { return "<class " + c.name + ">" }
func (c *class) Type() string          { return "class" }
func (c *class) Freeze()               { c.methods.Freeze() }
func (c *class) Truth() starlark.Bool  { return starlark.True }
func (c *class) Hash() (uint32, error) { return starlark.String(c.name).Hash() }
func (c *class) Name() string          { return c.name }

// chain returns the class names from c to the root, most derived first.
func (c *class) chain() []string {
	var names []string
	for k := c; k != nil; k = k.base {
		names = append(names, k.name)
	}
	return names
}

func (c *class) derivesFrom(base *class) bool {
	for k := c; k != nil; k = k.base {
		if k == base {
			return true
		}
	}
	return false
}

func (c *class) method(name string) starlark.Value {
	for k := c; k != nil; k = k.base {
		if fn, ok := k.methods[name]; ok {
			return fn
		}
	}
	return nil
}

func (c *class) Attr(name string) (starlark.Value, error) {
	switch name {
	case "__name__":
		return starlark.String(c.name), nil
	case "extend":
		return starlark.NewBuiltin("extend", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return c.engine.extend(b.Name(), c, args, kwargs)
		}), nil
	}
	return c.method(name), nil
}

func (c *class) AttrNames() []string {
	seen := map[string]bool{"__name__": true, "extend": true}
	for k := c; k != nil; k = k.base {
		for name := range k.methods {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallInternal constructs an instance and runs its init method, if any.
func (c *class) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	inst := &instance{class: c, fields: starlark.NewDict(0)}
	if init := c.method("init"); init != nil {
		callArgs := append(starlark.Tuple{inst}, args...)
		if _, err := starlark.Call(thread, init, callArgs, kwargs); err != nil {
			return nil, err
		}
	} else if len(args) > 0 || len(kwargs) > 0 {
		return nil, fmt.Errorf("%s() takes no arguments", c.name)
	}
	return inst, nil
}

// instance is an object of a guest class. Fields live in a dict; methods
// are looked up along the class chain and bound to the instance.
type instance struct {
	class  *class
	fields *starlark.Dict
	frozen bool
}

var (
	_ starlark.HasAttrs    = (*instance)(nil)
	_ starlark.HasSetField = (*instance)(nil)
)

func (i *instance) String() string       { return "<" + i.class.name + " instance>" }
func (i *instance) Type() string         { return i.class.name }
func (i *instance) Truth() starlark.Bool { return starlark.True }

func (i *instance) Freeze() {
	if !i.frozen {
		i.frozen = true
		i.fields.Freeze()
	}
}

func (i *instance) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", i.class.name)
}

func (i *instance) Attr(name string) (starlark.Value, error) {
	if v, found, _ := i.fields.Get(starlark.String(name)); found {
		return v, nil
	}
	if name == "__class__" {
		return i.class, nil
	}
	fn := i.class.method(name)
	if fn == nil {
		return nil, nil
	}
	return bind(i, name, fn), nil
}

func (i *instance) AttrNames() []string {
	names := i.class.AttrNames()
	for _, k := range i.fields.Keys() {
		if s, ok := k.(starlark.String); ok {
			names = append(names, string(s))
		}
	}
	sort.Strings(names)
	return names
}

func (i *instance) SetField(name string, v starlark.Value) error {
	if i.frozen {
		return fmt.Errorf("cannot set %s on frozen %s instance", name, i.class.name)
	}
	return i.fields.SetKey(starlark.String(name), v)
}

// bind returns fn with self applied as its first argument.
func bind(self *instance, name string, fn starlark.Value) starlark.Value {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.Call(thread, fn, append(starlark.Tuple{self}, args...), kwargs)
	})
}

// extend implements openstudio.extend(base, name, **methods) and
// Class.extend(name, **methods).
func (e *Engine) extend(fnName string, base *class, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if base == nil {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: missing base class", fnName)
		}
		b, ok := args[0].(*class)
		if !ok {
			return nil, fmt.Errorf("%s: base is %s, not a class", fnName, args[0].Type())
		}
		base, args = b, args[1:]
	}
	if !base.derivesFrom(e.measureClass) {
		return nil, fmt.Errorf("%s: base %s is not a measure class", fnName, base.name)
	}

	var name string
	if err := starlark.UnpackPositionalArgs(fnName, args, nil, 1, &name); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%s: class name must be a non-empty string", fnName)
	}

	methods := make(starlark.StringDict, len(kwargs))
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		if _, ok := kv[1].(starlark.Callable); !ok {
			return nil, fmt.Errorf("%s: method %s is %s, not callable", fnName, key, kv[1].Type())
		}
		methods[key] = kv[1]
	}
	return &class{name: name, base: base, methods: methods, engine: e}, nil
}
