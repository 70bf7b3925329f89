package starlarkengine

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
	lazy := scripting.NewLazy(loader, BackendName, nil)
	t.Cleanup(func() { _ = lazy.Reset() })

	ctx := context.Background()
	if err := lazy.Exec(ctx, "x = 1 + 1"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := lazy.Exec(ctx, "y = x * 10"); err != nil {
		t.Fatalf("second Exec() error = %v", err)
	}

	e, _ := lazy.Engine(ctx)
	if got := evalString(t, e, "str(x + y)"); got != "22" {
		t.Errorf("x + y = %q, want 22", got)
	}

	// Exec globals are frozen once the call returns.
	if err := lazy.Exec(ctx, "items = []"); err != nil {
		t.Fatal(err)
	}
	if err := lazy.Exec(ctx, "items.append(1)"); !scripting.IsGuestExecution(err) {
		t.Errorf("mutating a frozen global error = %v, want GuestExecution", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})

	tests := []string{"", "ascii", "héllo wörld", "日本語のテキスト", "emoji 🚀🔥", "quote \" and \\ backslash", "tab\tnewline\n"}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			if got := evalString(t, e, quote(s)); got != s {
				t.Errorf("round trip = %q, want %q", got, s)
			}
		})
	}
}

func TestGetAsRegistry(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})
	ctx := context.Background()

	if err := e.Exec(ctx, `Sim = openstudio.EnergyPlusMeasure.extend("Sim")`); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	sim, err := e.Eval(ctx, "Sim()")
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	defer sim.Release()

	em, err := scripting.GetAs[*measure.EnergyPlusMeasure](e, sim)
	if err != nil {
		t.Fatalf("GetAs[*measure.EnergyPlusMeasure]() error = %v", err)
	}
	if em.ClassName() != "Sim" {
		t.Errorf("ClassName() = %q", em.ClassName())
	}
	if _, err := scripting.GetAs[*measure.ModelMeasure](e, sim); !scripting.IsBadCast(err) {
		t.Errorf("GetAs EnergyPlusMeasure as ModelMeasure error = %v, want BadCast", err)
	}

	d, _ := e.Eval(ctx, "{}")
	defer d.Release()
	if _, err := scripting.GetAs[measure.Measure](e, d); !scripting.IsBadCast(err) {
		t.Errorf("GetAs on dict error = %v, want BadCast", err)
	}
	if _, err := scripting.GetAs[*bytes.Buffer](e, d); !scripting.IsUnknownType(err) {
		t.Errorf("GetAs unregistered type error = %v, want UnknownType", err)
	}
}

func TestExtendValidation(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})
	ctx := context.Background()

	tests := []struct {
		name   string
		source string
	}{
		{"not a class", `openstudio.extend({}, "X")`},
		{"empty name", `openstudio.Measure.extend("")`},
		{"non callable method", `openstudio.Measure.extend("X", run = 1)`},
		{"constructor args without init", `openstudio.Measure.extend("X")(1)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Exec(ctx, tt.source); !scripting.IsGuestExecution(err) {
				t.Errorf("Exec() error = %v, want GuestExecution", err)
			}
		})
	}
}

func TestGuestErrorsSurfaced(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(t, scripting.BackendConfig{Logger: zerolog.New(&buf)})

	err := e.Exec(context.Background(), `fail("roof missing")`)
	if !scripting.IsGuestExecution(err) {
		t.Fatalf("Exec() error = %v, want GuestExecution", err)
	}
	if !strings.Contains(buf.String(), "roof missing") {
		t.Errorf("log %q missing guest message", buf.String())
	}

	if err := e.Exec(context.Background(), "def ("); !scripting.IsGuestExecution(err) {
		t.Errorf("syntax error = %v, want GuestExecution", err)
	}
}

func TestSingleton(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})

	if _, err := New(scripting.BackendConfig{}); !errors.Is(err, scripting.ErrBackendInUse) {
		t.Fatalf("second New() error = %v, want ErrBackendInUse", err)
	}

	_ = e.Close()
	if err := e.Exec(context.Background(), "x = 1"); !errors.Is(err, scripting.ErrEngineClosed) {
		t.Errorf("Exec() after Close error = %v, want ErrEngineClosed", err)
	}

	again, err := New(scripting.BackendConfig{})
	if err != nil {
		t.Fatalf("New() after Close error = %v", err)
	}
	_ = again.Close()
}

func TestHomeAndBindings(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "lib", "units.star"), []byte("ft = 0.3048\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	e := newTestEngine(t, scripting.BackendConfig{
		Home:   home,
		Args:   []string{"host", "--verbose"},
		Logger: zerolog.New(&buf),
	})
	ctx := context.Background()

	if err := e.Exec(ctx, `load("units.star", "ft")
feet = ft
print("loaded units")
`); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if got := evalString(t, e, "str(feet)"); got != "0.3048" {
		t.Errorf("feet = %q", got)
	}
	if !strings.Contains(buf.String(), "loaded units") {
		t.Errorf("print output not logged: %q", buf.String())
	}

	if err := e.Exec(ctx, `load("../escape.star", "x")`); !scripting.IsGuestExecution(err) {
		t.Errorf("load outside lib error = %v, want GuestExecution", err)
	}

	if got := evalString(t, e, "str(openstudio.EMBEDDED)"); got != "True" {
		t.Errorf("EMBEDDED = %q", got)
	}
	if got := evalString(t, e, "openstudio.argv[1]"); got != "--verbose" {
		t.Errorf("argv[1] = %q", got)
	}
	if got := evalString(t, e, `json.encode({"a": 1})`); got != `{"a":1}` {
		t.Errorf("json.encode = %q", got)
	}
}

func TestContextCancel(t *testing.T) {
	e := newTestEngine(t, scripting.BackendConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := e.Exec(ctx, "while True:\n    pass\n"); !scripting.IsGuestExecution(err) {
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
def _init(self, label = "insulate"):
    self.label = label

def _name(self):
    return "Insulate Roof"

def _arguments(self):
    return ["r_value", "zones"]

def _run(self, args):
    return {
        "r_value": args["r_value"] * 2,
        "zones": len(args["zones"]),
        "ratio": args["r_value"] / 2,
        "label": self.label + "!",
        "nested": {"ok": True, "pair": (1, 2.5)},
    }

Insulate = openstudio.ModelMeasure.extend(
    "Insulate",
    init = _init,
    name = _name,
    arguments = _arguments,
    run = _run,
)
`); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	v, err := e.Eval(ctx, `Insulate("roof")`)
	if err != nil {
		t.Fatal(err)
	}
	m, err := scripting.GetAs[measure.Measure](e, v)
	if err != nil {
		t.Fatalf("GetAs() error = %v", err)
	}
	defer m.Close()

	if m.Kind() != measure.KindModel {
		t.Errorf("Kind() = %v", m.Kind())
	}
	if name, _ := m.Name(ctx); name != "Insulate Roof" {
		t.Errorf("Name() = %q", name)
	}
	if args, _ := m.Arguments(ctx); !reflect.DeepEqual(args, []string{"r_value", "zones"}) {
		t.Errorf("Arguments() = %v", args)
	}

	out, err := m.Run(ctx, map[string]any{
		"r_value": 15,
		"zones":   []any{"a", "b", "c"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := map[string]any{
		"r_value": int64(30),
		"zones":   int64(3),
		"ratio":   7.5,
		"label":   "roof!",
		"nested":  map[string]any{"ok": true, "pair": []any{int64(1), 2.5}},
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Run() = %#v, want %#v", out, want)
	}

	plain, _ := e.Eval(ctx, `openstudio.Measure.extend("Plain")()`)
	pm, err := scripting.GetAs[measure.Measure](e, plain)
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := pm.Name(ctx); name != "Plain" {
		t.Errorf("default Name() = %q, want Plain", name)
	}
	if _, err := pm.Run(ctx, nil); !scripting.IsGuestExecution(err) {
		t.Errorf("default run() error = %v, want GuestExecution", err)
	}
}
