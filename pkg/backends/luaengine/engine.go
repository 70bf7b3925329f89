package luaengine

import (
	"context"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/openfroyo/froyo-script/pkg/measure"
	"github.com/openfroyo/froyo-script/pkg/scripting"
)

// BackendName is the logical name the backend registers under.
const BackendName = "lua"

//go:embed prelude.lua
var prelude string

var (
	// live guards the one-interpreter-per-process rule.
	live atomic.Bool

	types = scripting.NewTypeRegistry(BackendName)
)

func init() {
	scripting.Register(scripting.BackendInfo{
		Name:        BackendName,
		Description: "Lua 5.1 (gopher-lua), reference counted values",
		Reinit:      true,
	}, NewScriptEngine)
}

// NewScriptEngine is the backend factory. Shared library builds export it
// under the same name.
func NewScriptEngine(cfg scripting.BackendConfig) (scripting.Engine, error) {
	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Engine is the embedded Lua interpreter.
type Engine struct {
	L        *lua.LState
	home     string
	args     []string
	bindings *lua.LTable
	refs     *lua.LTable
	logger   zerolog.Logger

	closed bool
	once   sync.Once
}

// New starts the process-wide Lua interpreter. It fails with
// scripting.ErrBackendInUse while another instance is live.
func New(cfg scripting.BackendConfig) (*Engine, error) {
	if !live.CompareAndSwap(false, true) {
		return nil, scripting.ErrBackendInUse
	}

	e, err := start(cfg)
	if err != nil {
		live.Store(false)
		return nil, err
	}
	return e, nil
}

func start(cfg scripting.BackendConfig) (*Engine, error) {
	logger := cfg.Logger.With().Str("component", "backend").Str("backend", BackendName).Logger()

	e := &Engine{
		home:   cfg.Home,
		args:   append([]string(nil), cfg.Args...),
		logger: logger,
	}

	e.L = lua.NewState(lua.Options{
		CallStackSize: 256,
		RegistrySize:  1024 * 16,
	})

	if err := e.configurePackage(); err != nil {
		e.L.Close()
		return nil, err
	}
	if err := e.installBindings(); err != nil {
		e.L.Close()
		return nil, err
	}

	types.SetLogger(cfg.Logger)
	measure.RegisterTypes(e)

	logger.Debug().
		Str("home", e.home).
		Int("argc", len(e.args)).
		Msg("Lua interpreter started")
	return e, nil
}

// configurePackage derives the module search path from the home directory
// alone and disables native module loading.
func (e *Engine) configurePackage() error {
	pkg, ok := e.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return fmt.Errorf("lua package library is not loaded")
	}

	path := ""
	if e.home != "" {
		lib := filepath.Join(e.home, "lib")
		path = strings.Join([]string{
			filepath.Join(lib, "?.lua"),
			filepath.Join(lib, "?", "init.lua"),
		}, ";")
	}
	pkg.RawSetString("path", lua.LString(path))
	pkg.RawSetString("cpath", lua.LString(""))
	pkg.RawSetString("loadlib", lua.LNil)
	return nil
}

// installBindings runs the bindings prelude and publishes the module as the
// global openstudio and as package.loaded.openstudio.
func (e *Engine) installBindings() error {
	fn, err := e.L.LoadString(prelude)
	if err != nil {
		return fmt.Errorf("failed to compile bindings: %w", err)
	}
	e.L.Push(fn)
	if err := e.L.PCall(0, 1, nil); err != nil {
		return fmt.Errorf("failed to run bindings: %w", err)
	}
	mod, ok := e.L.Get(-1).(*lua.LTable)
	e.L.Pop(1)
	if !ok {
		return fmt.Errorf("bindings did not return a module table")
	}

	argv := e.L.NewTable()
	for _, a := range e.args {
		argv.Append(lua.LString(a))
	}
	mod.RawSetString("argv", argv)

	refs, ok := mod.RawGetString("__refs").(*lua.LTable)
	if !ok {
		return fmt.Errorf("bindings module has no reference table")
	}

	e.bindings = mod
	e.refs = refs
	e.L.SetGlobal("openstudio", mod)
	if loaded, ok := e.L.GetField(e.L.GetGlobal("package"), "loaded").(*lua.LTable); ok {
		loaded.RawSetString("openstudio", mod)
	}
	return nil
}

// Kind returns "lua".
func (e *Engine) Kind() string { return BackendName }

// Types returns the process-wide Lua type registry.
func (e *Engine) Types() *scripting.TypeRegistry { return types }

// Home returns the guest home directory.
func (e *Engine) Home() string { return e.home }

// Exec runs a Lua chunk in the global environment.
func (e *Engine) Exec(ctx context.Context, source string) error {
	if e.closed {
		return scripting.NewGuestExecutionError(BackendName, "exec failed", scripting.ErrEngineClosed)
	}

	fn, err := e.L.LoadString(source)
	if err != nil {
		return e.guestError("exec", err)
	}

	top := e.L.GetTop()
	defer e.L.SetTop(top)
	defer e.bind(ctx)()

	e.L.Push(fn)
	if err := e.L.PCall(0, lua.MultRet, nil); err != nil {
		return e.guestError("exec", err)
	}
	return nil
}

// Eval evaluates a Lua expression.
func (e *Engine) Eval(ctx context.Context, source string) (*scripting.Value, error) {
	if e.closed {
		return nil, scripting.NewGuestExecutionError(BackendName, "eval failed", scripting.ErrEngineClosed)
	}

	fn, err := e.L.LoadString("return " + source)
	if err != nil {
		return nil, e.guestError("eval", err)
	}

	top := e.L.GetTop()
	defer e.L.SetTop(top)
	defer e.bind(ctx)()

	e.L.Push(fn)
	if err := e.L.PCall(0, 1, nil); err != nil {
		return nil, e.guestError("eval", err)
	}
	return e.wrap(e.L.Get(-1)), nil
}

// DecodeString returns the bytes of a Lua string unchanged.
func (e *Engine) DecodeString(v *scripting.Value) (string, error) {
	lv, err := e.unwrap(v)
	if err != nil {
		return "", err
	}
	s, ok := lv.(lua.LString)
	if !ok {
		return "", scripting.NewBadCastError(BackendName,
			fmt.Sprintf("guest value is a %s, not a string", lv.Type()), nil)
	}
	return string(s), nil
}

// IsInstance reports whether v is an instance of the class named typeName
// or of a class derived from it.
func (e *Engine) IsInstance(v *scripting.Value, typeName string) (bool, error) {
	lv, err := e.unwrap(v)
	if err != nil {
		return false, err
	}
	for _, name := range e.classChain(lv) {
		if name == typeName {
			return true, nil
		}
	}
	return false, nil
}

// Extract returns the measure host object for a measure instance. The host
// object pins the instance until it is closed.
func (e *Engine) Extract(v *scripting.Value) (any, error) {
	lv, err := e.unwrap(v)
	if err != nil {
		return nil, err
	}

	chain := e.classChain(lv)
	if len(chain) == 0 || chain[len(chain)-1] != measure.GuestMeasure {
		return nil, scripting.NewBadCastError(BackendName,
			fmt.Sprintf("guest %s has no host object", lv.Type()), nil)
	}

	tbl := lv.(*lua.LTable)
	e.pin(tbl)
	obj := &object{engine: e, table: tbl}
	return measure.New(measure.ClassifyBases(chain), chain[0], obj), nil
}

// Close finalizes the interpreter once.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.closed = true
		e.L.Close()
		e.bindings = nil
		e.refs = nil
		e.args = nil
		live.Store(false)
		e.logger.Debug().Msg("Lua interpreter finalized")
	})
	return nil
}

// classChain returns the class names of an instance, most derived first, or
// nil when lv is not a class instance.
func (e *Engine) classChain(lv lua.LValue) []string {
	if _, ok := lv.(*lua.LTable); !ok {
		return nil
	}
	cls, ok := e.L.GetMetatable(lv).(*lua.LTable)
	if !ok || cls.RawGetString("__class") != lua.LTrue {
		return nil
	}

	var names []string
	for cls != nil {
		names = append(names, lua.LVAsString(cls.RawGetString("__name")))
		next, _ := cls.RawGetString("__base").(*lua.LTable)
		cls = next
	}
	return names
}

// bind attaches ctx to the state so a cancelled context aborts guest code.
// It returns the function that detaches it.
func (e *Engine) bind(ctx context.Context) func() {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}
	e.L.SetContext(ctx)
	return func() { e.L.RemoveContext() }
}

func (e *Engine) guestError(op string, err error) error {
	e.logger.Error().
		Str("operation", op).
		Str("diagnostic", err.Error()).
		Msg("Lua guest code failed")
	return scripting.NewGuestExecutionError(BackendName, op+" failed", err)
}

func (e *Engine) call(ctx context.Context, fn lua.LValue, args ...lua.LValue) (lua.LValue, error) {
	top := e.L.GetTop()
	defer e.L.SetTop(top)
	defer e.bind(ctx)()

	if err := e.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, err
	}
	return e.L.Get(-1), nil
}
