// Package scripting is the embeddable scripting-engine abstraction.
//
// An Engine is one in-process guest interpreter. Hosts never construct
// engines directly: a Loader resolves a logical backend name either to a
// factory linked into the binary (backends call Register from init, the way
// database/sql drivers do) or to a shared library
// <ModuleDir>/libfroyo_<name>_engine.so exporting NewScriptEngine. A Lazy
// handle defers that work until the first call and keeps the engine until
// Reset.
//
//	import _ "github.com/openfroyo/froyo-script/pkg/backends/lua"
//
//	loader := scripting.NewLoader(scripting.LoaderConfig{ModuleDir: dir})
//	lazy := scripting.NewLazy(loader, "lua", os.Args)
//	if err := lazy.Exec(ctx, "x = 1 + 1"); err != nil {
//	    return err
//	}
//	v, err := lazy.Eval(ctx, "tostring(x)")
//	if err != nil {
//	    return err
//	}
//	defer v.Release()
//	s, err := scripting.GetAs[string](engine, v)
//
// Guest results come back as *Value, an opaque handle whose ownership is
// explicit: Clone adds a reference, Move transfers it, Release drops it.
// GetAs converts a value to a host type through the backend's TypeRegistry,
// which callers populate with RegisterType.
//
// Every failure is an *Error carrying a Code (BACKEND_UNAVAILABLE,
// GUEST_EXECUTION, UNKNOWN_TYPE, BAD_CAST, DISCOVERY_NOT_FOUND,
// DISCOVERY_AMBIGUOUS) plus the backend, file and class involved.
package scripting
