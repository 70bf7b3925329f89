package scripting

import (
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// TypeRegistry maps host type identities to backend-specific guest type
// names. Each backend kind owns one registry for the life of the process.
type TypeRegistry struct {
	mu      sync.RWMutex
	backend string
	names   map[reflect.Type]string
	logger  zerolog.Logger
}

// NewTypeRegistry creates an empty registry for the named backend.
func NewTypeRegistry(backend string) *TypeRegistry {
	return &TypeRegistry{
		backend: backend,
		names:   make(map[reflect.Type]string),
		logger:  zerolog.Nop(),
	}
}

// SetLogger sets the logger used to report conflicting registrations.
func (r *TypeRegistry) SetLogger(logger zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger.With().Str("component", "type-registry").Str("backend", r.backend).Logger()
}

// Register records name for host type t. The last registration wins; when it
// replaces a different name the previous name is returned and a warning is
// logged, since that usually means two callers disagree about the mapping.
func (r *TypeRegistry) Register(t reflect.Type, name string) (replaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.names[t]
	r.names[t] = name
	if exists && prev != name {
		r.logger.Warn().
			Str("host_type", t.String()).
			Str("previous", prev).
			Str("name", name).
			Msg("Guest type name re-registered")
		return prev
	}
	return ""
}

// Lookup returns the guest type name for t or an UnknownType error.
func (r *TypeRegistry) Lookup(t reflect.Type) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.names[t]
	if !ok {
		return "", NewUnknownTypeError(r.backend, typeString(t))
	}
	return name, nil
}

// Entries returns a snapshot of the registry as host type string -> guest
// name, sorted by host type for stable output.
func (r *TypeRegistry) Entries() []TypeEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TypeEntry, 0, len(r.names))
	for t, name := range r.names {
		out = append(out, TypeEntry{HostType: t.String(), GuestName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostType < out[j].HostType })
	return out
}

// TypeEntry is one registry mapping.
type TypeEntry struct {
	HostType  string
	GuestName string
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
