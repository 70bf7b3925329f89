package luaengine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-script/pkg/measure"
	"github.com/openfroyo/froyo-script/pkg/scripting"
)

func newTestEngine(t *testing.T, cfg scripting.BackendConfig) *Engine {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = BackendName
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func evalString(t *testing.T, e scripting.Engine, expr string) string {
	t.Helper()
	v, err := e.Eval(context.Background(), expr)
	if err != nil {
		t.Fatalf("Eval(%q) error = %v", expr, err)
	}
	defer v.Release()
	s, err := scripting.GetAs[string](e, v)
	if err != nil {
		t.Fatalf("GetAs[string](%q) error = %v", expr, err)
	}
	return s
}

func TestExecSharesState(t *testing.T) {
	loader := scripting.NewLoader(scripting.LoaderConfig{ModuleDir: t.TempDir()})
	lazy := scripting.NewLazy(loader, BackendName, []string{"froyo-script"})
	t.Cleanup(func() { _ = lazy.Reset() })

	ctx := context.Background()
	if err := lazy.Exec(ctx, "x = 1 + 1"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := lazy.Exec(ctx, "y = x * 10"); err != nil {
		t.Fatalf("second Exec() error = %v", err)
	}

	e, _ := lazy.Engine(ctx)
	if got := evalString(t, e, "tostring(y)"); got != "20" {
		t.Errorf("y = %q, want 20", got)
	}

	if err := lazy.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if err := lazy.Exec(ctx, "assert(x == nil)"); err != nil {
		t.Errorf("fresh interpreter should not see old globals: %v", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})

	tests := []string{"", "ascii", "héllo wörld", "日本語のテキスト", "emoji 🚀🔥", "quote \" and ' mixed", "tab\tnewline\n"}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			lit := quote(s)
			if got := evalString(t, e, lit); got != s {
				t.Errorf("round trip = %q, want %q", got, s)
			}
		})
	}
}

func TestGetAsRegistry(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})
	ctx := context.Background()

	if err := e.Exec(ctx, `
Plain = openstudio.Measure:extend("Plain")
Roof = openstudio.ModelMeasure:extend("Roof")
`); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	plain, err := e.Eval(ctx, "Plain()")
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	defer plain.Release()

	if _, err := scripting.GetAs[*measure.Base](e, plain); !scripting.IsUnknownType(err) {
		t.Fatalf("GetAs before registration error = %v, want UnknownType", err)
	}

	scripting.RegisterType[*measure.Base](e, measure.GuestMeasure)

	m, err := scripting.GetAs[*measure.Base](e, plain)
	if err != nil {
		t.Fatalf("GetAs() error = %v", err)
	}
	defer m.Close()
	if m.ClassName() != "Plain" {
		t.Errorf("ClassName() = %q, want Plain", m.ClassName())
	}

	table, _ := e.Eval(ctx, "{}")
	defer table.Release()
	if _, err := scripting.GetAs[*measure.Base](e, table); !scripting.IsBadCast(err) {
		t.Errorf("GetAs on plain table error = %v, want BadCast", err)
	}

	roof, _ := e.Eval(ctx, "Roof()")
	defer roof.Release()
	if _, err := scripting.GetAs[*measure.ReportingMeasure](e, roof); !scripting.IsBadCast(err) {
		t.Errorf("GetAs ModelMeasure as ReportingMeasure error = %v, want BadCast", err)
	}
	rm, err := scripting.GetAs[*measure.ModelMeasure](e, roof)
	if err != nil {
		t.Fatalf("GetAs[*measure.ModelMeasure]() error = %v", err)
	}
	rm.Close()
}

func TestRefcountPins(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})
	ctx := context.Background()

	if err := e.Exec(ctx, "pinned = {}"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	count := func() string { return evalString(t, e, "tostring(openstudio.refcount(pinned))") }

	before := count()
	if before != "0" {
		t.Fatalf("initial refcount = %s, want 0", before)
	}

	v, err := e.Eval(ctx, "pinned")
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if got := count(); got != "1" {
		t.Errorf("refcount after construction = %s, want 1", got)
	}

	copies := []*scripting.Value{v.Clone(), v.Clone(), v.Clone()}
	if got := count(); got != "4" {
		t.Errorf("refcount after 3 copies = %s, want 4", got)
	}

	moved := copies[2].Move()
	if got := count(); got != "4" {
		t.Errorf("refcount after move = %s, want 4", got)
	}
	copies[2].Release()

	v.Release()
	copies[0].Release()
	copies[1].Release()
	moved.Release()

	if got := count(); got != before {
		t.Errorf("refcount after releasing all copies = %s, want %s", got, before)
	}
}

func TestGuestErrorsSurfaced(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(t, scripting.BackendConfig{Logger: zerolog.New(&buf)})
	ctx := context.Background()

	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"syntax", "x = = 1", "x = = 1"},
		{"runtime", `error("roof missing")`, "roof missing"},
		{"nil index", "local t = nil; return t.field", "nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			err := e.Exec(ctx, tt.source)
			if !scripting.IsGuestExecution(err) {
				t.Fatalf("Exec() error = %v, want GuestExecution", err)
			}
			if buf.Len() == 0 {
				t.Error("guest diagnostic was not logged")
			}
			if tt.name == "runtime" && !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log %q missing %q", buf.String(), tt.want)
			}
		})
	}

	if _, err := e.Eval(ctx, "undefined_fn()"); !scripting.IsGuestExecution(err) {
		t.Errorf("Eval() error = %v, want GuestExecution", err)
	}
}

func TestSingleton(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})

	if _, err := New(scripting.BackendConfig{}); !errors.Is(err, scripting.ErrBackendInUse) {
		t.Fatalf("second New() error = %v, want ErrBackendInUse", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := e.Exec(context.Background(), "x = 1"); !errors.Is(err, scripting.ErrEngineClosed) {
		t.Errorf("Exec() after Close error = %v, want ErrEngineClosed", err)
	}

	again, err := New(scripting.BackendConfig{})
	if err != nil {
		t.Fatalf("New() after Close error = %v", err)
	}
	_ = again.Close()
}

func TestHomeLibraryPath(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "lib", "units.lua"), []byte(`return { ft = 0.3048 }`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LUA_PATH", "/nonexistent/?.lua")

	e := newTestEngine(t, scripting.BackendConfig{Home: home, Args: []string{"host", "--verbose"}})

	if got := evalString(t, e, `tostring(require("units").ft)`); got != "0.3048" {
		t.Errorf("require(units).ft = %q", got)
	}
	if got := evalString(t, e, "package.path"); strings.Contains(got, "nonexistent") {
		t.Errorf("package.path %q should ignore LUA_PATH", got)
	}
	if got := evalString(t, e, "package.cpath"); got != "" {
		t.Errorf("package.cpath = %q, want empty", got)
	}
	if got := evalString(t, e, "tostring(openstudio.EMBEDDED)"); got != "true" {
		t.Errorf("EMBEDDED = %q", got)
	}
	if got := evalString(t, e, "openstudio.argv[2]"); got != "--verbose" {
		t.Errorf("argv[2] = %q", got)
	}
	if got := evalString(t, e, `tostring(require("openstudio") == openstudio)`); got != "true" {
		t.Errorf("require(openstudio) should return the global bindings")
	}
}

func TestContextCancel(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := e.Exec(ctx, "while true do end")
	if !scripting.IsGuestExecution(err) {
		t.Fatalf("Exec() error = %v, want GuestExecution", err)
	}

	if err := e.Exec(context.Background(), "after = 1"); err != nil {
		t.Errorf("engine unusable after cancellation: %v", err)
	}
}

func TestMeasureRun(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})
	ctx := context.Background()

	if err := e.Exec(ctx, `
Insulate = openstudio.ModelMeasure:extend("Insulate")
function Insulate:name() return "Insulate Roof" end
function Insulate:arguments() return { "r_value", "zones" } end
function Insulate:run(args)
  return {
    r_value = args.r_value * 2,
    zones = #args.zones,
    label = args.label .. "!",
    nested = { ok = true },
  }
end
`); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	v, err := e.Eval(ctx, "Insulate()")
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	m, err := scripting.GetAs[measure.Measure](e, v)
	v.Release()
	if err != nil {
		t.Fatalf("GetAs() error = %v", err)
	}
	defer m.Close()

	if m.Kind() != measure.KindModel {
		t.Errorf("Kind() = %v, want ModelMeasure", m.Kind())
	}
	if name, _ := m.Name(ctx); name != "Insulate Roof" {
		t.Errorf("Name() = %q", name)
	}
	if args, _ := m.Arguments(ctx); !reflect.DeepEqual(args, []string{"r_value", "zones"}) {
		t.Errorf("Arguments() = %v", args)
	}
	desc, err := m.Description(ctx)
	if err != nil || desc != "" {
		t.Errorf("default Description() = %q, %v", desc, err)
	}

	out, err := m.Run(ctx, map[string]any{
		"r_value": 15,
		"zones":   []any{"a", "b", "c"},
		"label":   "done",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := map[string]any{
		"r_value": int64(30),
		"zones":   int64(3),
		"label":   "done!",
		"nested":  map[string]any{"ok": true},
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Run() = %#v, want %#v", out, want)
	}

	if _, err := m.Run(ctx, map[string]any{"r_value": "x"}); !scripting.IsGuestExecution(err) {
		t.Errorf("Run() with bad args error = %v, want GuestExecution", err)
	}
}

func TestMeasurePinsObject(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})
	ctx := context.Background()

	if err := e.Exec(ctx, `M = openstudio.Measure:extend("M"); inst = M()`); err != nil {
		t.Fatal(err)
	}
	v, _ := e.Eval(ctx, "inst")
	m, err := scripting.GetAs[measure.Measure](e, v)
	if err != nil {
		t.Fatal(err)
	}
	v.Release()

	if got := evalString(t, e, "tostring(openstudio.refcount(inst))"); got != "1" {
		t.Errorf("refcount while measure is open = %s, want 1", got)
	}
	m.Close()
	if got := evalString(t, e, "tostring(openstudio.refcount(inst))"); got != "0" {
		t.Errorf("refcount after Close = %s, want 0", got)
	}
}

func TestQuote(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})

	tests := []string{"plain", "a]]b", "x]=]y]]", `back\slash`, "nul\x00byte", "\nleading newline", "héllo"}
	for _, s := range tests {
		lit := quote(s)
		if strings.Contains(lit, "[[") {
			t.Errorf("quote(%q) = %s, must not open a long bracket", s, lit)
		}
		if got := evalString(t, e, lit); got != s {
			t.Errorf("eval(quote(%q)) = %q", s, got)
		}
		if got := evalString(t, e, "({["+lit+"] = "+lit+"})["+lit+"]"); got != s {
			t.Errorf("quote(%q) used as an index = %q", s, got)
		}
	}
}

func TestDialectSources(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "add_roof.lua")
	src := `
AddRoof = openstudio.EnergyPlusMeasure:extend("AddRoof")
function AddRoof:name() return "Add Roof" end
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	const module = "froyo_measure_test"
	if err := e.Exec(ctx, e.ImportSource(module, path, false)); err != nil {
		t.Fatalf("ImportSource error = %v", err)
	}
	if got := evalString(t, e, e.ClassListSource(module, measure.GuestMeasure)); got != "AddRoof" {
		t.Errorf("ClassListSource = %q, want AddRoof", got)
	}

	subclass := map[string]string{
		measure.GuestMeasure:           "true",
		measure.GuestEnergyPlusMeasure: "true",
		measure.GuestModelMeasure:      "false",
	}
	for base, want := range subclass {
		if got := evalString(t, e, e.SubclassSource(module, "AddRoof", base)); got != want {
			t.Errorf("SubclassSource(%s) = %q, want %q", base, got, want)
		}
	}

	v, err := e.Eval(ctx, e.NewInstanceSource(module, "AddRoof"))
	if err != nil {
		t.Fatalf("NewInstanceSource error = %v", err)
	}
	m, err := scripting.GetAs[measure.Measure](e, v)
	v.Release()
	if err != nil {
		t.Fatalf("GetAs[measure.Measure] error = %v", err)
	}
	defer m.Close()
	if m.Kind() != measure.KindEnergyPlus {
		t.Errorf("Kind() = %v, want EnergyPlusMeasure", m.Kind())
	}

	// Known-class loads name the module after the class.
	if err := e.Exec(ctx, e.ImportSource("AddRoof", path, true)); err != nil {
		t.Fatalf("ImportSource(reload) error = %v", err)
	}
	v, err = e.Eval(ctx, e.NewInstanceSource("AddRoof", "AddRoof"))
	if err != nil {
		t.Fatalf("NewInstanceSource after reload error = %v", err)
	}
	v.Release()
}

func TestGetAsMismatchReleasesPin(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})
	ctx := context.Background()

	if err := e.Exec(ctx, `R = openstudio.EnergyPlusMeasure:extend("R"); inst = R()`); err != nil {
		t.Fatal(err)
	}
	// The guest check passes for any measure, the host assertion does not.
	scripting.RegisterType[*measure.ModelMeasure](e, measure.GuestMeasure)
	t.Cleanup(func() { scripting.RegisterType[*measure.ModelMeasure](e, measure.GuestModelMeasure) })

	v, err := e.Eval(ctx, "inst")
	if err != nil {
		t.Fatal(err)
	}
	_, err = scripting.GetAs[*measure.ModelMeasure](e, v)
	v.Release()
	if !scripting.IsBadCast(err) {
		t.Fatalf("GetAs[*ModelMeasure] error = %v, want BadCast", err)
	}
	if got := evalString(t, e, "tostring(openstudio.refcount(inst))"); got != "0" {
		t.Errorf("refcount after failed cast = %s, want 0", got)
	}
}
