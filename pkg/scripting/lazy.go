package scripting

import (
	"context"
	"fmt"

	"github.com/openfroyo/froyo-script/pkg/telemetry"
)

// EngineLoader constructs engines by logical backend name. *Loader
// implements it.
type EngineLoader interface {
	Load(ctx context.Context, name string, args []string) (Engine, error)
}

// LazyOption configures a Lazy handle.
type LazyOption func(*Lazy)

// WithTelemetry instruments the engine a Lazy handle creates and publishes
// backend lifecycle events.
func WithTelemetry(tel *telemetry.Telemetry) LazyOption {
	return func(l *Lazy) {
		l.tel = tel
	}
}

// Lazy defers backend construction until first use and then caches the
// engine until Reset.
//
// Lazy is not synchronized. The host must guarantee that the first use
// happens on one goroutine, and must serialize later calls as it would for
// the engine itself.
type Lazy struct {
	loader EngineLoader
	name   string
	args   []string
	tel    *telemetry.Telemetry

	engine Engine
}

// NewLazy captures the backend name and process arguments. No interpreter
// work happens here.
func NewLazy(loader EngineLoader, name string, args []string, opts ...LazyOption) *Lazy {
	l := &Lazy{
		loader: loader,
		name:   name,
		args:   append([]string(nil), args...),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the logical backend name.
func (l *Lazy) Name() string {
	return l.name
}

// Loaded reports whether an engine is currently cached.
func (l *Lazy) Loaded() bool {
	return l.engine != nil
}

// Engine returns the cached engine, constructing it on first use. A failed
// construction is not cached; the next call tries again.
func (l *Lazy) Engine(ctx context.Context) (Engine, error) {
	if l.engine != nil {
		return l.engine, nil
	}
	if l.loader == nil {
		return nil, NewBackendUnavailableError(l.name, "no runtime loader configured", nil)
	}

	if l.tel == nil {
		e, err := l.loader.Load(ctx, l.name, l.args)
		if err != nil {
			return nil, err
		}
		l.engine = e
		return e, nil
	}

	op := l.tel.StartOperation(ctx, "backend.load", telemetry.AttrBackend.String(l.name))
	e, err := l.loader.Load(op.Ctx, l.name, l.args)
	op.End(err)
	l.tel.Metrics.RecordBackendLoad(l.name, telemetry.Status(err))
	if err != nil {
		l.tel.Metrics.RecordError(l.name, string(CodeOf(err)))
		_ = l.tel.Events.PublishBackendFailed(l.name, err)
		return nil, err
	}

	l.tel.Metrics.SetBackendLive(l.name, true)
	_ = l.tel.Events.PublishBackendLoaded(l.name, l.source(), op.Elapsed())
	l.engine = Instrument(e, l.tel)
	return l.engine, nil
}

// Exec runs guest code on the engine, constructing it if needed.
func (l *Lazy) Exec(ctx context.Context, source string) error {
	e, err := l.Engine(ctx)
	if err != nil {
		return err
	}
	return e.Exec(ctx, source)
}

// Eval evaluates a guest expression on the engine, constructing it if needed.
func (l *Lazy) Eval(ctx context.Context, source string) (*Value, error) {
	e, err := l.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return e.Eval(ctx, source)
}

// Reset finalizes the cached engine, if any, so the next use constructs a
// fresh one. Backends whose BackendInfo.Reinit is false must not be brought up
// again after a reset.
func (l *Lazy) Reset() error {
	if l.engine == nil {
		return nil
	}
	e := l.engine
	l.engine = nil

	err := e.Close()
	if l.tel != nil {
		l.tel.Metrics.SetBackendLive(l.name, false)
		_ = l.tel.Events.PublishBackendReset(l.name)
	}
	if err != nil {
		return fmt.Errorf("failed to finalize %s backend: %w", l.name, err)
	}
	return nil
}

func (l *Lazy) source() string {
	if ld, ok := l.loader.(*Loader); ok {
		if _, linked := lookupFactory(l.name); linked && !ld.config.PreferDynamic {
			return "linked"
		}
		return ld.LibraryPath(l.name)
	}
	return "custom"
}
