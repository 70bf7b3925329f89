package scripting

import (
	"context"
	"errors"
	"testing"

	"github.com/openfroyo/froyo-script/pkg/telemetry"
)

type stubLoader struct {
	calls  int
	fail   error
	engine *fakeEngine
	args   []string
}

func (s *stubLoader) Load(ctx context.Context, name string, args []string) (Engine, error) {
	s.calls++
	s.args = args
	if s.fail != nil {
		return nil, s.fail
	}
	s.engine = newFakeEngine()
	return s.engine, nil
}

func TestLazyDefersAndCaches(t *testing.T) {
	loader := &stubLoader{}
	lazy := NewLazy(loader, "fake", []string{"host", "a"})

	if loader.calls != 0 || lazy.Loaded() {
		t.Fatal("NewLazy should not construct the engine")
	}

	ctx := context.Background()
	if err := lazy.Exec(ctx, "x = 2"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	v, err := lazy.Eval(ctx, "x")
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	defer v.Release()

	if loader.calls != 1 {
		t.Errorf("loader called %d times, want 1", loader.calls)
	}
	if got, _ := GetAs[string](loader.engine, v); got != "2" {
		t.Errorf("second call did not see first call's state: x = %q", got)
	}
	if len(loader.args) != 2 || loader.args[1] != "a" {
		t.Errorf("loader args = %v", loader.args)
	}
}

func TestLazyFailedLoadNotCached(t *testing.T) {
	loader := &stubLoader{fail: NewBackendUnavailableError("fake", "nope", nil)}
	lazy := NewLazy(loader, "fake", nil)
	ctx := context.Background()

	if err := lazy.Exec(ctx, "x = 1"); !IsBackendUnavailable(err) {
		t.Fatalf("Exec() error = %v, want BackendUnavailable", err)
	}
	if lazy.Loaded() {
		t.Error("failed load should not be cached")
	}

	loader.fail = nil
	if err := lazy.Exec(ctx, "x = 1"); err != nil {
		t.Fatalf("Exec() after recovery error = %v", err)
	}
	if loader.calls != 2 {
		t.Errorf("loader called %d times, want 2", loader.calls)
	}
}

func TestLazyReset(t *testing.T) {
	loader := &stubLoader{}
	lazy := NewLazy(loader, "fake", nil)
	ctx := context.Background()

	if err := lazy.Reset(); err != nil {
		t.Fatalf("Reset() before use error = %v", err)
	}

	first, err := lazy.Engine(ctx)
	if err != nil {
		t.Fatalf("Engine() error = %v", err)
	}
	firstFake := loader.engine

	if err := lazy.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if firstFake.closed != 1 {
		t.Errorf("Reset closed engine %d times, want 1", firstFake.closed)
	}
	if lazy.Loaded() {
		t.Error("Reset should drop the cached engine")
	}

	second, err := lazy.Engine(ctx)
	if err != nil {
		t.Fatalf("Engine() after reset error = %v", err)
	}
	if first == second {
		t.Error("expected a fresh engine after Reset")
	}
}

func TestLazyNoLoader(t *testing.T) {
	lazy := NewLazy(nil, "fake", nil)
	if _, err := lazy.Engine(context.Background()); !IsBackendUnavailable(err) {
		t.Errorf("Engine() error = %v, want BackendUnavailable", err)
	}
}

func TestLazyWithTelemetry(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	var events []string
	tel.Events.Subscribe(func(e telemetry.Event) { events = append(events, e.Type) }, nil)

	loader := &stubLoader{}
	lazy := NewLazy(loader, "fake", nil, WithTelemetry(tel))
	ctx := context.Background()

	e, err := lazy.Engine(ctx)
	if err != nil {
		t.Fatalf("Engine() error = %v", err)
	}
	if _, ok := e.(Wrapper); !ok {
		t.Fatal("engine should be instrumented")
	}
	if Unwrap(e) != Engine(loader.engine) {
		t.Error("Unwrap should reach the backend engine")
	}

	if err := lazy.Exec(ctx, "broken"); !IsGuestExecution(err) {
		t.Errorf("Exec() error = %v, want GuestExecution", err)
	}
	if err := lazy.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	want := []string{telemetry.EventTypeBackendLoaded, telemetry.EventTypeBackendReset}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, want %v", events, want)
	}

	loader.fail = errors.New("gone")
	if _, err := lazy.Engine(ctx); err == nil {
		t.Error("expected load failure")
	}
	if events[len(events)-1] != telemetry.EventTypeBackendFailed {
		t.Errorf("last event = %s, want backend.failed", events[len(events)-1])
	}
}
