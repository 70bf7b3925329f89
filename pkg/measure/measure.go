package measure

import (
	"context"
	"fmt"

	"github.com/openfroyo/froyo-script/pkg/scripting"
)

// Guest type names of the bindings module classes.
const (
	GuestMeasure           = "openstudio.Measure"
	GuestModelMeasure      = "openstudio.ModelMeasure"
	GuestEnergyPlusMeasure = "openstudio.EnergyPlusMeasure"
	GuestReportingMeasure  = "openstudio.ReportingMeasure"
)

// Object is a guest measure instance as seen from the host. Backends
// implement it; calls run on the backend's interpreter and are subject to
// the same serialization rules as the engine.
type Object interface {
	// CallMethod invokes a guest method with host arguments and returns the
	// result converted to host values (string, float64, int64, bool, []any,
	// map[string]any or nil).
	CallMethod(ctx context.Context, method string, args ...any) (any, error)

	// Release drops the host's reference to the guest object.
	Release()
}

// Measure is the host-domain plugin base type.
type Measure interface {
	Kind() Kind
	ClassName() string
	Name(ctx context.Context) (string, error)
	Description(ctx context.Context) (string, error)
	Arguments(ctx context.Context) ([]string, error)
	Run(ctx context.Context, args map[string]any) (map[string]any, error)
	Close()
}

// Base proxies Measure calls to a guest object. It is the host object of a
// class deriving directly from openstudio.Measure.
type Base struct {
	class string
	obj   Object
}

// ModelMeasure is the host object of an openstudio.ModelMeasure subclass.
type ModelMeasure struct{ Base }

// EnergyPlusMeasure is the host object of an openstudio.EnergyPlusMeasure subclass.
type EnergyPlusMeasure struct{ Base }

// ReportingMeasure is the host object of an openstudio.ReportingMeasure subclass.
type ReportingMeasure struct{ Base }

// New returns the host object for a guest measure of the given kind. The
// returned measure owns obj.
func New(kind Kind, class string, obj Object) Measure {
	base := Base{class: class, obj: obj}
	switch kind {
	case KindModel:
		return &ModelMeasure{Base: base}
	case KindEnergyPlus:
		return &EnergyPlusMeasure{Base: base}
	case KindReporting:
		return &ReportingMeasure{Base: base}
	default:
		return &base
	}
}

// Kind returns KindMeasure.
func (b *Base) Kind() Kind { return KindMeasure }

// Kind returns KindModel.
func (m *ModelMeasure) Kind() Kind { return KindModel }

// Kind returns KindEnergyPlus.
func (m *EnergyPlusMeasure) Kind() Kind { return KindEnergyPlus }

// Kind returns KindReporting.
func (m *ReportingMeasure) Kind() Kind { return KindReporting }

// ClassName returns the guest class name.
func (b *Base) ClassName() string { return b.class }

// Object returns the guest object backing the measure.
func (b *Base) Object() Object { return b.obj }

// Name returns the measure's display name.
func (b *Base) Name(ctx context.Context) (string, error) {
	return b.callString(ctx, "name")
}

// Description returns the measure's description.
func (b *Base) Description(ctx context.Context) (string, error) {
	return b.callString(ctx, "description")
}

// Arguments returns the names of the arguments the measure accepts.
func (b *Base) Arguments(ctx context.Context) ([]string, error) {
	out, err := b.call(ctx, "arguments")
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	list, ok := out.([]any)
	if !ok {
		return nil, b.badResult("arguments", "list", out)
	}
	names := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, b.badResult("arguments", "list of strings", item)
		}
		names = append(names, s)
	}
	return names, nil
}

// Run invokes the measure with host arguments. A guest result of nil is an
// empty map.
func (b *Base) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	out, err := b.call(ctx, "run", args)
	if err != nil {
		return nil, err
	}

	switch r := out.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return r, nil
	case []any:
		// An empty guest table decodes as a list.
		if len(r) == 0 {
			return map[string]any{}, nil
		}
	}
	return nil, b.badResult("run", "map", out)
}

// Close releases the guest object. It is safe to call more than once.
func (b *Base) Close() {
	if b.obj == nil {
		return
	}
	b.obj.Release()
	b.obj = nil
}

func (b *Base) call(ctx context.Context, method string, args ...any) (any, error) {
	if b.obj == nil {
		return nil, fmt.Errorf("measure %s: %w", b.class, scripting.ErrInertValue)
	}
	out, err := b.obj.CallMethod(ctx, method, args...)
	if err != nil {
		return nil, scripting.Annotate(err, "", b.class)
	}
	return out, nil
}

func (b *Base) callString(ctx context.Context, method string) (string, error) {
	out, err := b.call(ctx, method)
	if err != nil {
		return "", err
	}
	s, ok := out.(string)
	if !ok {
		return "", b.badResult(method, "string", out)
	}
	return s, nil
}

func (b *Base) badResult(method, want string, got any) error {
	return scripting.NewBadCastError("",
		fmt.Sprintf("%s() returned %T, want %s", method, got, want), nil).
		WithClass(b.class)
}

// RegisterTypes records the bindings class names of the measure host types
// on e's backend.
func RegisterTypes(e scripting.Engine) {
	scripting.RegisterType[Measure](e, GuestMeasure)
	scripting.RegisterType[*ModelMeasure](e, GuestModelMeasure)
	scripting.RegisterType[*EnergyPlusMeasure](e, GuestEnergyPlusMeasure)
	scripting.RegisterType[*ReportingMeasure](e, GuestReportingMeasure)
}
