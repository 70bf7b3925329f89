package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is everything a host process reports through.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config

	logOutput     io.Closer
	metricsServer *http.Server
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w, closer, err := openLogOutput(cfg.Logging.Output)
	if err != nil {
		return nil, err
	}
	t := &Telemetry{
		Logger:    NewLogger(cfg.Logging, w),
		Config:    cfg,
		logOutput: closer,
	}

	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, t.abort(err)
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, t.abort(err)
	}
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, t.abort(err)
	}
	return t, nil
}

func (t *Telemetry) abort(err error) error {
	if t.logOutput != nil {
		_ = t.logOutput.Close()
	}
	return err
}

// WithContext attaches t and its logger to ctx. zerolog.Ctx(ctx) then
// returns the host logger.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromContext returns the telemetry attached to ctx, or nil.
func FromContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// StartMetricsServer serves the metrics endpoint when one is configured.
func (t *Telemetry) StartMetricsServer() error {
	srv, err := t.Metrics.StartMetricsServer(Component(t.Logger, "metrics"))
	if err != nil {
		return err
	}
	t.metricsServer = srv
	return nil
}

// Shutdown drains events, flushes spans and stops the metrics server. Every
// component is shut down even when an earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Events.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down tracer: %w", err))
	}
	if t.metricsServer != nil {
		if err := t.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	if t.logOutput != nil {
		errs = append(errs, t.logOutput.Close())
	}
	return errors.Join(errs...)
}

// Operation is one traced and timed unit of host work.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger zerolog.Logger

	started time.Time
}

// StartOperation opens a span named name and a logger carrying the trace
// identifiers.
func (t *Telemetry) StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	ctx, span := t.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	lctx := t.Logger.With().Str("operation", name)
	if sc := span.SpanContext(); sc.IsValid() {
		lctx = lctx.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	logger := lctx.Logger()

	return &Operation{
		Ctx:     logger.WithContext(ctx),
		Span:    span,
		Logger:  logger,
		started: time.Now(),
	}
}

// StartOperation uses the telemetry attached to ctx. Without one the
// operation is only timed.
func StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	if t := FromContext(ctx); t != nil {
		return t.StartOperation(ctx, name, attrs...)
	}
	return &Operation{Ctx: ctx, Logger: *zerolog.Ctx(ctx), started: time.Now()}
}

// Elapsed is the time since the operation started.
func (op *Operation) Elapsed() time.Duration {
	return time.Since(op.started)
}

// End sets the span status from err and closes the span.
func (op *Operation) End(err error) {
	if op.Span == nil {
		return
	}
	if err != nil {
		RecordError(op.Span, err)
	} else {
		RecordSuccess(op.Span)
	}
	op.Span.End()
}

// Status is the metric status label for err.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
