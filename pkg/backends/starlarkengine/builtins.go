package starlarkengine

import (
	"fmt"
	"os"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

func selfArg(b *starlark.Builtin, args starlark.Tuple) (*instance, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing self", b.Name())
	}
	self, ok := args[0].(*instance)
	if !ok {
		return nil, fmt.Errorf("%s: self is %s, not a measure instance", b.Name(), args[0].Type())
	}
	return self, nil
}

func defaultName(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	self, err := selfArg(b, args)
	if err != nil {
		return nil, err
	}
	return starlark.String(self.class.name), nil
}

func defaultDescription(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	if _, err := selfArg(b, args); err != nil {
		return nil, err
	}
	return starlark.String(""), nil
}

func defaultArguments(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	if _, err := selfArg(b, args); err != nil {
		return nil, err
	}
	return starlark.NewList(nil), nil
}

func defaultRun(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	self, err := selfArg(b, args)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s does not implement run()", self.class.name)
}

// builtinIsSubclass implements openstudio.issubclass(cls, base).
func builtinIsSubclass(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cls, base starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &cls, &base); err != nil {
		return nil, err
	}
	c, ok1 := cls.(*class)
	bc, ok2 := base.(*class)
	return starlark.Bool(ok1 && ok2 && c.derivesFrom(bc)), nil
}

// builtinIsInstance implements openstudio.isinstance(obj, base).
func builtinIsInstance(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var obj, base starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &obj, &base); err != nil {
		return nil, err
	}
	inst, ok1 := obj.(*instance)
	bc, ok2 := base.(*class)
	return starlark.Bool(ok1 && ok2 && inst.class.derivesFrom(bc)), nil
}

// builtinClassList implements openstudio.class_list(mod, base): the sorted,
// newline separated names of the module's classes strictly deriving from
// base, bindings classes excluded.
func builtinClassList(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var mod *starlarkstruct.Module
	var base *class
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &mod, &base); err != nil {
		return nil, err
	}

	var names []string
	for _, name := range mod.Members.Keys() {
		c, ok := mod.Members[name].(*class)
		if !ok || c == base || c.builtin || !c.derivesFrom(base) {
			continue
		}
		names = append(names, name)
	}
	return starlark.String(strings.Join(names, "\n")), nil
}

// importFile implements openstudio.import_file(name, path, reload). The
// file runs in its own global scope and its globals become a module.
func (e *Engine) importFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, path string
	reload := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "path", &path, "reload?", &reload); err != nil {
		return nil, err
	}

	if !reload {
		if mod, ok := e.modules[name]; ok {
			return mod, nil
		}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, path, src, e.baseEnv())
	if err != nil {
		return nil, err
	}

	mod := &starlarkstruct.Module{Name: name, Members: globals}
	e.modules[name] = mod
	return mod, nil
}

// module implements openstudio.module(name).
func (e *Engine) module(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	mod, ok := e.modules[name]
	if !ok {
		return nil, fmt.Errorf("module %s is not loaded", name)
	}
	return mod, nil
}
