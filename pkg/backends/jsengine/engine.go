package jsengine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-script/pkg/measure"
	"github.com/openfroyo/froyo-script/pkg/scripting"
)

// BackendName is the logical name the backend registers under.
const BackendName = "javascript"

//go:embed prelude.js
var prelude string

var (
	live atomic.Bool

	types = scripting.NewTypeRegistry(BackendName)
)

func init() {
	scripting.Register(scripting.BackendInfo{
		Name:        BackendName,
		Description: "ECMAScript 5.1+ (goja) with CommonJS require, GC owned values",
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

// Engine is the embedded JavaScript runtime.
type Engine struct {
	vm       *goja.Runtime
	registry *require.Registry
	home     string
	args     []string
	bindings *goja.Object
	modules  map[string]*goja.Object
	logger   zerolog.Logger

	closed bool
	once   sync.Once
}

// New starts the process-wide JavaScript runtime. It fails with
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
		home:    cfg.Home,
		args:    append([]string(nil), cfg.Args...),
		modules: make(map[string]*goja.Object),
		logger:  logger,
	}

	// Global folders come from the home directory only; NODE_PATH and the
	// user's node_modules directories are never consulted.
	var opts []require.Option
	if e.home != "" {
		opts = append(opts, require.WithGlobalFolders(filepath.Join(e.home, "lib")))
	}
	e.registry = require.NewRegistry(opts...)
	e.registry.RegisterNativeModule("console", console.RequireWithPrinter(&printer{logger: logger}))
	e.registry.RegisterNativeModule("openstudio", func(_ *goja.Runtime, module *goja.Object) {
		_ = module.Set("exports", e.bindings)
	})

	e.vm = goja.New()
	e.registry.Enable(e.vm)
	console.Enable(e.vm)

	if err := e.installBindings(); err != nil {
		e.vm = nil
		return nil, err
	}

	types.SetLogger(cfg.Logger)
	measure.RegisterTypes(e)

	logger.Debug().
		Str("home", e.home).
		Int("argc", len(e.args)).
		Msg("JavaScript runtime started")
	return e, nil
}

func (e *Engine) installBindings() error {
	v, err := e.vm.RunScript("openstudio.js", prelude)
	if err != nil {
		return fmt.Errorf("failed to run bindings: %w", err)
	}
	mod, ok := v.(*goja.Object)
	if !ok {
		return fmt.Errorf("bindings did not return a module object")
	}

	argv := make([]any, len(e.args))
	for i, a := range e.args {
		argv[i] = a
	}
	if err := mod.Set("argv", e.vm.NewArray(argv...)); err != nil {
		return err
	}
	if err := mod.Set("import_file", e.importFile); err != nil {
		return err
	}
	if err := mod.Set("module", e.module); err != nil {
		return err
	}

	e.bindings = mod
	return e.vm.Set("openstudio", mod)
}

// Kind returns "javascript".
func (e *Engine) Kind() string { return BackendName }

// Types returns the process-wide JavaScript type registry.
func (e *Engine) Types() *scripting.TypeRegistry { return types }

// Home returns the guest home directory.
func (e *Engine) Home() string { return e.home }

// Exec runs a script in the global scope.
func (e *Engine) Exec(ctx context.Context, source string) error {
	if e.closed {
		return scripting.NewGuestExecutionError(BackendName, "exec failed", scripting.ErrEngineClosed)
	}
	defer e.bind(ctx)()

	if _, err := e.vm.RunScript("<exec>", source); err != nil {
		return e.guestError("exec", err)
	}
	return nil
}

// Eval evaluates a JavaScript expression.
func (e *Engine) Eval(ctx context.Context, source string) (*scripting.Value, error) {
	if e.closed {
		return nil, scripting.NewGuestExecutionError(BackendName, "eval failed", scripting.ErrEngineClosed)
	}
	defer e.bind(ctx)()

	// RunScript yields the completion value of the last statement. A leading
	// brace would parse as a block, so object literals are parenthesized.
	if strings.HasPrefix(strings.TrimSpace(source), "{") {
		source = "(\n" + source + "\n)"
	}
	v, err := e.vm.RunScript("<eval>", source)
	if err != nil {
		return nil, e.guestError("eval", err)
	}
	return scripting.NewValue(BackendName, scripting.GCHandle{V: v}), nil
}

// DecodeString returns a JavaScript string as UTF-8.
func (e *Engine) DecodeString(v *scripting.Value) (string, error) {
	jv, err := e.unwrap(v)
	if err != nil {
		return "", err
	}
	if _, isObj := jv.(*goja.Object); isObj || goja.IsUndefined(jv) || goja.IsNull(jv) {
		return "", scripting.NewBadCastError(BackendName,
			fmt.Sprintf("guest value %s is not a string", typeOf(jv)), nil)
	}
	s, ok := jv.Export().(string)
	if !ok {
		return "", scripting.NewBadCastError(BackendName,
			fmt.Sprintf("guest value %s is not a string", typeOf(jv)), nil)
	}
	return s, nil
}

// IsInstance reports whether v is an instance of the class at the dotted
// global path typeName.
func (e *Engine) IsInstance(v *scripting.Value, typeName string) (bool, error) {
	jv, err := e.unwrap(v)
	if err != nil {
		return false, err
	}
	cls, ok := e.lookupClass(typeName)
	if !ok {
		return false, nil
	}
	return e.vm.InstanceOf(jv, cls), nil
}

// Extract returns the measure host object for a measure instance.
func (e *Engine) Extract(v *scripting.Value) (any, error) {
	jv, err := e.unwrap(v)
	if err != nil {
		return nil, err
	}

	obj, ok := jv.(*goja.Object)
	base, found := e.lookupClass(measure.GuestMeasure)
	if !ok || !found || !e.vm.InstanceOf(obj, base) {
		return nil, scripting.NewBadCastError(BackendName,
			fmt.Sprintf("guest %s has no host object", typeOf(jv)), nil)
	}

	kind, err := measure.Classify(func(guestType string) (bool, error) {
		cls, ok := e.lookupClass(guestType)
		return ok && e.vm.InstanceOf(obj, cls), nil
	})
	if err != nil {
		return nil, err
	}
	return measure.New(kind, className(obj), &object{engine: e, obj: obj}), nil
}

// Close finalizes the runtime once.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.closed = true
		e.vm = nil
		e.registry = nil
		e.bindings = nil
		e.modules = nil
		e.args = nil
		live.Store(false)
		e.logger.Debug().Msg("JavaScript runtime finalized")
	})
	return nil
}

// lookupClass resolves a dotted path such as "openstudio.Measure" from the
// global object.
func (e *Engine) lookupClass(path string) (*goja.Object, bool) {
	cur := e.vm.GlobalObject()
	for _, part := range strings.Split(path, ".") {
		next, ok := cur.Get(part).(*goja.Object)
		if !ok {
			return nil, false
		}
		cur = next
	}
	if _, ok := goja.AssertFunction(cur); !ok {
		return nil, false
	}
	return cur, true
}

// importFile implements openstudio.import_file(name, path, reload). The file
// is evaluated as a CommonJS module and its exports are cached under name.
func (e *Engine) importFile(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	path := call.Argument(1).String()
	reload := call.Argument(2).ToBoolean()

	if !reload {
		if mod, ok := e.modules[name]; ok {
			return mod
		}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		panic(e.vm.NewGoError(err))
	}

	// The wrapper shares the first line with the module source so guest
	// line numbers stay accurate.
	wrapped := "(function (exports, require, module, __filename, __dirname) {" + string(src) + "\n})"
	prg, err := goja.Compile(path, wrapped, false)
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	fnv, err := e.vm.RunProgram(prg)
	if err != nil {
		e.throw(err)
	}
	fn, ok := goja.AssertFunction(fnv)
	if !ok {
		panic(e.vm.NewTypeError("module wrapper for %s is not callable", path))
	}

	exports := e.vm.NewObject()
	module := e.vm.NewObject()
	_ = module.Set("exports", exports)
	_ = module.Set("id", name)
	_ = module.Set("filename", path)

	if _, err := fn(goja.Undefined(), exports, e.vm.Get("require"), module,
		e.vm.ToValue(path), e.vm.ToValue(filepath.Dir(path))); err != nil {
		e.throw(err)
	}

	mod := module.Get("exports").ToObject(e.vm)
	e.modules[name] = mod
	return mod
}

// throw rethrows err into the calling guest code, preserving guest
// exceptions.
func (e *Engine) throw(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(e.vm.NewGoError(err))
}

// module implements openstudio.module(name).
func (e *Engine) module(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	mod, ok := e.modules[name]
	if !ok {
		panic(e.vm.NewTypeError("module %s is not loaded", name))
	}
	return mod
}

// bind interrupts the runtime when ctx is done. It returns the function that
// detaches ctx and clears a pending interrupt.
func (e *Engine) bind(ctx context.Context) func() {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}
	vm := e.vm
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	return func() {
		stop()
		vm.ClearInterrupt()
	}
}

func (e *Engine) guestError(op string, err error) error {
	diagnostic := err.Error()
	var ex *goja.Exception
	if errors.As(err, &ex) {
		diagnostic = ex.String()
	}
	e.logger.Error().
		Str("operation", op).
		Str("diagnostic", diagnostic).
		Msg("JavaScript guest code failed")
	return scripting.NewGuestExecutionError(BackendName, op+" failed", err)
}

func className(obj *goja.Object) string {
	if ctor, ok := obj.Get("constructor").(*goja.Object); ok {
		if name := ctor.Get("name"); name != nil && !goja.IsUndefined(name) {
			return name.String()
		}
	}
	return measure.GuestMeasure
}

func typeOf(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		return obj.ClassName()
	}
	return v.ExportType().String()
}
