package starlarkengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/froyo-script/pkg/measure"
	"github.com/openfroyo/froyo-script/pkg/scripting"
)

// BackendName is the logical name the backend registers under.
const BackendName = "starlark"

var (
	live atomic.Bool

	types = scripting.NewTypeRegistry(BackendName)
)

// fileOptions enables the dialect measure authors expect: while loops,
// top-level control flow, recursion and global reassignment.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

func init() {
	scripting.Register(scripting.BackendInfo{
		Name:        BackendName,
		Description: "Starlark (go.starlark.net), GC owned values",
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

// Engine is the embedded Starlark interpreter. Globals produced by Exec are
// carried into later calls as predeclared names.
type Engine struct {
	home     string
	args     []string
	bindings *starlarkstruct.Module
	globals  starlark.StringDict
	modules  map[string]*starlarkstruct.Module
	loads    *loadCache
	logger   zerolog.Logger

	measureClass *class

	closed bool
	once   sync.Once
}

// New starts the process-wide Starlark interpreter. It fails with
// scripting.ErrBackendInUse while another instance is live.
func New(cfg scripting.BackendConfig) (*Engine, error) {
	if !live.CompareAndSwap(false, true) {
		return nil, scripting.ErrBackendInUse
	}

	logger := cfg.Logger.With().Str("component", "backend").Str("backend", BackendName).Logger()
	e := &Engine{
		home:    cfg.Home,
		args:    append([]string(nil), cfg.Args...),
		globals: make(starlark.StringDict),
		modules: make(map[string]*starlarkstruct.Module),
		logger:  logger,
	}
	e.loads = newLoadCache(e)
	e.installBindings()

	types.SetLogger(cfg.Logger)
	measure.RegisterTypes(e)

	logger.Debug().
		Str("home", e.home).
		Int("argc", len(e.args)).
		Msg("Starlark interpreter started")
	return e, nil
}

func (e *Engine) installBindings() {
	measureClass := &class{
		name:    measure.GuestMeasure,
		builtin: true,
		engine:  e,
		methods: starlark.StringDict{
			"name":        starlark.NewBuiltin("name", defaultName),
			"description": starlark.NewBuiltin("description", defaultDescription),
			"arguments":   starlark.NewBuiltin("arguments", defaultArguments),
			"run":         starlark.NewBuiltin("run", defaultRun),
		},
	}
	sub := func(name string) *class {
		return &class{name: name, base: measureClass, builtin: true, engine: e, methods: starlark.StringDict{}}
	}
	e.measureClass = measureClass

	argv := make([]starlark.Value, len(e.args))
	for i, a := range e.args {
		argv[i] = starlark.String(a)
	}

	e.bindings = &starlarkstruct.Module{
		Name: "openstudio",
		Members: starlark.StringDict{
			"EMBEDDED":          starlark.True,
			"argv":              starlark.NewList(argv),
			"Measure":           measureClass,
			"ModelMeasure":      sub(measure.GuestModelMeasure),
			"EnergyPlusMeasure": sub(measure.GuestEnergyPlusMeasure),
			"ReportingMeasure":  sub(measure.GuestReportingMeasure),
			"extend": starlark.NewBuiltin("extend", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				return e.extend(b.Name(), nil, args, kwargs)
			}),
			"issubclass":  starlark.NewBuiltin("issubclass", builtinIsSubclass),
			"isinstance":  starlark.NewBuiltin("isinstance", builtinIsInstance),
			"class_list":  starlark.NewBuiltin("class_list", builtinClassList),
			"import_file": starlark.NewBuiltin("import_file", e.importFile),
			"module":      starlark.NewBuiltin("module", e.module),
		},
	}
}

// baseEnv returns the names every guest file sees: the bindings and the
// library modules.
func (e *Engine) baseEnv() starlark.StringDict {
	return starlark.StringDict{
		"struct":     starlarkstruct.Default,
		"json":       json.Module,
		"math":       math.Module,
		"openstudio": e.bindings,
	}
}

// predeclared returns the environment of host-submitted code: baseEnv plus
// everything earlier Exec calls defined.
func (e *Engine) predeclared() starlark.StringDict {
	env := e.baseEnv()
	for k, v := range e.globals {
		env[k] = v
	}
	return env
}

// Kind returns "starlark".
func (e *Engine) Kind() string { return BackendName }

// Types returns the process-wide Starlark type registry.
func (e *Engine) Types() *scripting.TypeRegistry { return types }

// Home returns the guest home directory.
func (e *Engine) Home() string { return e.home }

// Exec runs a Starlark chunk. Its globals are frozen when it returns and
// remain visible to later calls.
func (e *Engine) Exec(ctx context.Context, source string) error {
	if e.closed {
		return scripting.NewGuestExecutionError(BackendName, "exec failed", scripting.ErrEngineClosed)
	}

	thread, done := e.newThread(ctx, "exec")
	defer done()

	globals, err := starlark.ExecFileOptions(fileOptions, thread, "<exec>", source, e.predeclared())
	if err != nil {
		return e.guestError("exec", err)
	}
	for k, v := range globals {
		e.globals[k] = v
	}
	return nil
}

// Eval evaluates a Starlark expression.
func (e *Engine) Eval(ctx context.Context, source string) (*scripting.Value, error) {
	if e.closed {
		return nil, scripting.NewGuestExecutionError(BackendName, "eval failed", scripting.ErrEngineClosed)
	}

	thread, done := e.newThread(ctx, "eval")
	defer done()

	v, err := starlark.EvalOptions(fileOptions, thread, "<eval>", source, e.predeclared())
	if err != nil {
		return nil, e.guestError("eval", err)
	}
	return scripting.NewValue(BackendName, scripting.GCHandle{V: v}), nil
}

// DecodeString returns the bytes of a Starlark string unchanged.
func (e *Engine) DecodeString(v *scripting.Value) (string, error) {
	sv, err := e.unwrap(v)
	if err != nil {
		return "", err
	}
	s, ok := sv.(starlark.String)
	if !ok {
		return "", scripting.NewBadCastError(BackendName,
			fmt.Sprintf("guest value is a %s, not a string", sv.Type()), nil)
	}
	return string(s), nil
}

// IsInstance reports whether v is an instance of the class at the dotted
// path typeName or of a class derived from it.
func (e *Engine) IsInstance(v *scripting.Value, typeName string) (bool, error) {
	sv, err := e.unwrap(v)
	if err != nil {
		return false, err
	}
	inst, ok := sv.(*instance)
	if !ok {
		return false, nil
	}
	cls, ok := e.lookupClass(typeName)
	if !ok {
		return false, nil
	}
	return inst.class.derivesFrom(cls), nil
}

// Extract returns the measure host object for a measure instance.
func (e *Engine) Extract(v *scripting.Value) (any, error) {
	sv, err := e.unwrap(v)
	if err != nil {
		return nil, err
	}
	inst, ok := sv.(*instance)
	if !ok || !inst.class.derivesFrom(e.measureClass) {
		return nil, scripting.NewBadCastError(BackendName,
			fmt.Sprintf("guest %s has no host object", sv.Type()), nil)
	}
	kind := measure.ClassifyBases(inst.class.chain())
	return measure.New(kind, inst.class.name, &object{engine: e, inst: inst}), nil
}

// Close finalizes the interpreter once.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.closed = true
		e.globals = nil
		e.modules = nil
		e.loads = nil
		e.bindings = nil
		e.args = nil
		live.Store(false)
		e.logger.Debug().Msg("Starlark interpreter finalized")
	})
	return nil
}

// lookupClass resolves a dotted path such as "openstudio.Measure".
func (e *Engine) lookupClass(path string) (*class, bool) {
	v, err := resolve(e.predeclared(), path)
	if err != nil {
		return nil, false
	}
	cls, ok := v.(*class)
	return cls, ok
}

// newThread returns a thread that is cancelled when ctx is done, and the
// function releasing it.
func (e *Engine) newThread(ctx context.Context, name string) (*starlark.Thread, func()) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Info().Str("stream", "print").Msg(msg)
		},
		Load: e.loads.load,
	}
	if ctx == nil || ctx.Done() == nil {
		return thread, func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	return thread, func() { stop() }
}

func (e *Engine) guestError(op string, err error) error {
	diagnostic := err.Error()
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		diagnostic = evalErr.Backtrace()
	}
	e.logger.Error().
		Str("operation", op).
		Str("diagnostic", diagnostic).
		Msg("Starlark guest code failed")
	return scripting.NewGuestExecutionError(BackendName, op+" failed", err)
}
