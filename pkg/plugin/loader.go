package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/froyo-script/pkg/measure"
	"github.com/openfroyo/froyo-script/pkg/scripting"
	"github.com/openfroyo/froyo-script/pkg/stores"
	"github.com/openfroyo/froyo-script/pkg/telemetry"
)

// modulePrefix prefixes the synthetic module names used by Discover.
const modulePrefix = "froyo_measure_"

// Dialect renders the guest source the loader submits to a backend. Each
// backend engine implements it for its own language.
type Dialect interface {
	// ImportSource returns a statement importing path as module, re-running
	// the file when reload is set.
	ImportSource(module, path string, reload bool) string

	// ClassListSource returns an expression whose string value is the
	// newline separated names of module's classes strictly deriving from
	// the class expression baseType, bindings classes excluded.
	ClassListSource(module, baseType string) string

	// SubclassSource returns an expression whose string value is "true"
	// when module's class derives from baseType and "false" otherwise.
	SubclassSource(module, class, baseType string) string

	// NewInstanceSource returns an expression constructing module's class.
	NewInstanceSource(module, class string) string
}

// Catalog records what the loader found. *stores.SQLiteStore implements it.
type Catalog interface {
	UpsertMeasure(ctx context.Context, m *stores.Measure) error
	RecordLoad(ctx context.Context, rec *stores.LoadRecord) error
}

// Discovered is the result of inferring a measure class from a file. The
// caller owns Measure and must Close it.
type Discovered struct {
	ClassName string
	Kind      measure.Kind
	Measure   measure.Measure
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger.With().Str("component", "plugin-loader").Logger()
	}
}

// WithTelemetry records spans, metrics and measure events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(l *Loader) {
		l.tel = tel
	}
}

// WithCatalog records every discovery and load in catalog.
func WithCatalog(catalog Catalog) Option {
	return func(l *Loader) {
		l.catalog = catalog
	}
}

// Loader locates and instantiates measure classes defined in guest files.
// Like the engine it drives, a Loader is not safe for concurrent use.
type Loader struct {
	engine  scripting.Engine
	dialect Dialect
	backend string
	logger  zerolog.Logger
	tel     *telemetry.Telemetry
	catalog Catalog
}

// NewLoader returns a loader driving engine. The backend behind engine must
// implement Dialect.
func NewLoader(engine scripting.Engine, opts ...Option) (*Loader, error) {
	if engine == nil {
		return nil, fmt.Errorf("plugin loader requires an engine")
	}
	dialect, ok := scripting.Unwrap(engine).(Dialect)
	if !ok {
		return nil, scripting.NewBackendUnavailableError(engine.Kind(),
			"backend does not support measure plugins", nil)
	}

	l := &Loader{
		engine:  engine,
		dialect: dialect,
		backend: engine.Kind(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Discover imports path under a synthetic module name, requires exactly one
// measure class in it, classifies the class and returns an instance.
func (l *Loader) Discover(ctx context.Context, path string) (*Discovered, error) {
	path = absPath(path)
	op := l.startOperation(ctx, stores.LoadModeDiscover, path)

	d, err := l.discover(op.Ctx, path)
	class := classOf(err)
	if d != nil {
		class = d.ClassName
	}

	op.End(err)
	l.record(ctx, path, class, d, stores.LoadModeDiscover, op.Elapsed(), err)
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("file", path).
		Str("class", d.ClassName).
		Str("kind", d.Kind.String()).
		Msg("Discovered measure")
	return d, nil
}

func (l *Loader) discover(ctx context.Context, path string) (*Discovered, error) {
	base, err := l.baseType()
	if err != nil {
		return nil, l.fail(err, path, "")
	}

	module := modulePrefix + strings.ReplaceAll(uuid.NewString(), "-", "_")
	if err := l.engine.Exec(ctx, l.dialect.ImportSource(module, path, false)); err != nil {
		return nil, l.fail(err, path, "")
	}

	list, err := l.evalString(ctx, l.dialect.ClassListSource(module, base))
	if err != nil {
		return nil, l.fail(err, path, "")
	}
	classes := splitLines(list)
	if len(classes) != 1 {
		return nil, scripting.NewDiscoveryError(l.backend, path, classes)
	}
	class := classes[0]

	kind, err := measure.Classify(func(guestType string) (bool, error) {
		out, err := l.evalString(ctx, l.dialect.SubclassSource(module, class, guestType))
		if err != nil {
			return false, err
		}
		return out == "true", nil
	})
	if err != nil {
		return nil, l.fail(err, path, class)
	}

	m, err := l.instantiate(ctx, module, class)
	if err != nil {
		return nil, l.fail(err, path, class)
	}
	return &Discovered{ClassName: class, Kind: kind, Measure: m}, nil
}

// Load imports path as a module named after className, always re-running
// the file, and returns a new instance of className.
func (l *Loader) Load(ctx context.Context, path, className string) (measure.Measure, error) {
	path = absPath(path)
	op := l.startOperation(ctx, stores.LoadModeKnown, path)

	m, err := l.load(op.Ctx, path, className)

	op.End(err)
	var d *Discovered
	if m != nil {
		d = &Discovered{ClassName: className, Kind: m.Kind(), Measure: m}
	}
	l.record(ctx, path, className, d, stores.LoadModeKnown, op.Elapsed(), err)
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("file", path).
		Str("class", className).
		Str("kind", m.Kind().String()).
		Msg("Loaded measure")
	return m, nil
}

func (l *Loader) load(ctx context.Context, path, className string) (measure.Measure, error) {
	if className == "" {
		return nil, scripting.NewBadCastError(l.backend, "class name is required", nil).WithFile(path)
	}
	if err := l.engine.Exec(ctx, l.dialect.ImportSource(className, path, true)); err != nil {
		return nil, l.fail(err, path, className)
	}
	m, err := l.instantiate(ctx, className, className)
	if err != nil {
		return nil, l.fail(err, path, className)
	}
	return m, nil
}

func (l *Loader) instantiate(ctx context.Context, module, class string) (measure.Measure, error) {
	v, err := l.engine.Eval(ctx, l.dialect.NewInstanceSource(module, class))
	if err != nil {
		return nil, err
	}
	defer v.Release()
	return scripting.GetAs[measure.Measure](l.engine, v)
}

// baseType returns the guest name registered for measure.Measure.
func (l *Loader) baseType() (string, error) {
	return l.engine.Types().Lookup(reflect.TypeFor[measure.Measure]())
}

func (l *Loader) evalString(ctx context.Context, src string) (string, error) {
	v, err := l.engine.Eval(ctx, src)
	if err != nil {
		return "", err
	}
	defer v.Release()
	return scripting.GetAs[string](l.engine, v)
}

func (l *Loader) startOperation(ctx context.Context, mode stores.LoadMode, path string) *telemetry.Operation {
	attrs := []attribute.KeyValue{
		telemetry.AttrBackend.String(l.backend),
		telemetry.AttrLoadMode.String(string(mode)),
		telemetry.AttrMeasureFile.String(path),
	}
	if l.tel == nil {
		return telemetry.StartOperation(ctx, "measure."+string(mode), attrs...)
	}
	return l.tel.StartOperation(ctx, "measure."+string(mode), attrs...)
}

// fail attaches backend, file and class context to err.
func (l *Loader) fail(err error, file, class string) error {
	var se *scripting.Error
	if errors.As(err, &se) {
		if se.Backend == "" {
			se.Backend = l.backend
		}
		return scripting.Annotate(err, file, class)
	}
	if class != "" {
		return fmt.Errorf("%s: %s: class %s: %w", l.backend, file, class, err)
	}
	return fmt.Errorf("%s: %s: %w", l.backend, file, err)
}

// record publishes telemetry for a discovery or load and writes it to the
// catalog. Catalog failures are logged, never returned.
func (l *Loader) record(ctx context.Context, path, class string, d *Discovered, mode stores.LoadMode, dur time.Duration, loadErr error) {
	kind := ""
	if d != nil {
		kind = d.Kind.String()
	}

	if l.tel != nil && l.tel.Metrics != nil {
		l.tel.Metrics.RecordMeasureLoad(l.backend, string(mode), kind, telemetry.Status(loadErr), dur)
	}
	if l.tel != nil && l.tel.Events != nil {
		var err error
		switch {
		case loadErr != nil:
			err = l.tel.Events.PublishMeasureFailed(l.backend, path, class, loadErr)
		case mode == stores.LoadModeDiscover:
			err = l.tel.Events.PublishMeasureDiscovered(l.backend, path, class, kind)
		default:
			err = l.tel.Events.PublishMeasureLoaded(l.backend, path, class, kind, dur)
		}
		if err != nil {
			l.logger.Debug().Err(err).Msg("Dropped measure event")
		}
	}

	if l.catalog == nil {
		return
	}

	rec := &stores.LoadRecord{
		Path:       path,
		Backend:    l.backend,
		ClassName:  class,
		Mode:       mode,
		Status:     stores.LoadStatusSuccess,
		DurationMS: dur.Milliseconds(),
	}
	if loadErr != nil {
		msg := loadErr.Error()
		rec.Status = stores.LoadStatusFailed
		rec.Error = &msg
	} else {
		sum, err := stores.FileChecksum(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", path).Msg("Failed to checksum measure file")
		}
		m := &stores.Measure{
			Path:      path,
			Backend:   l.backend,
			ClassName: class,
			Kind:      kind,
			Checksum:  sum,
		}
		if err := l.catalog.UpsertMeasure(ctx, m); err != nil {
			l.logger.Warn().Err(err).Str("file", path).Msg("Failed to catalog measure")
		}
	}

	if err := l.catalog.RecordLoad(ctx, rec); err != nil {
		l.logger.Warn().Err(err).Str("file", path).Msg("Failed to record measure load")
	}
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func classOf(err error) string {
	var se *scripting.Error
	if errors.As(err, &se) {
		return se.Class
	}
	return ""
}
