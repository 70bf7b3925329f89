package scripting

import (
	"context"

	"github.com/openfroyo/froyo-script/pkg/telemetry"
)

// instrumented records a span, a latency sample and an error count for every
// Exec and Eval on the wrapped engine.
type instrumented struct {
	Engine
	tel *telemetry.Telemetry
}

// Instrument wraps e with tracing and metrics. A nil telemetry returns e.
func Instrument(e Engine, tel *telemetry.Telemetry) Engine {
	if tel == nil || e == nil {
		return e
	}
	return &instrumented{Engine: e, tel: tel}
}

// Unwrap returns the backend engine.
func (i *instrumented) Unwrap() Engine {
	return i.Engine
}

func (i *instrumented) Exec(ctx context.Context, source string) error {
	op := i.start(ctx, "exec")
	err := i.Engine.Exec(op.Ctx, source)
	i.finish(op, "exec", err)
	return err
}

func (i *instrumented) Eval(ctx context.Context, source string) (*Value, error) {
	op := i.start(ctx, "eval")
	v, err := i.Engine.Eval(op.Ctx, source)
	i.finish(op, "eval", err)
	return v, err
}

func (i *instrumented) Close() error {
	i.tel.Metrics.SetBackendLive(i.Kind(), false)
	return i.Engine.Close()
}

func (i *instrumented) start(ctx context.Context, call string) *telemetry.Operation {
	return i.tel.StartOperation(ctx, "guest."+call,
		telemetry.AttrBackend.String(i.Kind()),
		telemetry.AttrOperation.String(call),
	)
}

func (i *instrumented) finish(op *telemetry.Operation, call string, err error) {
	op.End(err)
	i.tel.Metrics.RecordGuestCall(i.Kind(), call, telemetry.Status(err), op.Elapsed())
	if err != nil {
		i.tel.Metrics.RecordError(i.Kind(), string(CodeOf(err)))
	}
}
