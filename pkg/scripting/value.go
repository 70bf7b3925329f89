package scripting

// Handle is one backend-native object handle together with its ownership
// operations. Clone must produce a handle that owns its own reference (a
// reference-counted backend increments the guest count); Release drops that
// reference. Backends whose guest collector owns every object implement both
// as no-ops.
type Handle interface {
	Clone() Handle
	Release()
}

// Value is a type-erased container for exactly one backend handle.
//
// Copy with Clone, transfer with Move and destroy with Release. A moved-from
// or released value is inert: releasing it again is a no-op and backends
// reject it with ErrInertValue.
type Value struct {
	backend string
	handle  Handle
}

// NewValue wraps a handle produced by the named backend. The handle must
// already own a reference.
func NewValue(backend string, h Handle) *Value {
	return &Value{backend: backend, handle: h}
}

// Backend returns the name of the backend that produced the value.
func (v *Value) Backend() string {
	if v == nil {
		return ""
	}
	return v.backend
}

// Handle returns the wrapped handle, or nil for an inert value.
func (v *Value) Handle() Handle {
	if v == nil {
		return nil
	}
	return v.handle
}

// Valid reports whether the value still holds a handle.
func (v *Value) Valid() bool {
	return v != nil && v.handle != nil
}

// Clone returns an independent copy that owns its own reference.
// Cloning an inert value returns another inert value.
func (v *Value) Clone() *Value {
	if !v.Valid() {
		return &Value{backend: v.Backend()}
	}
	return &Value{backend: v.backend, handle: v.handle.Clone()}
}

// Move transfers the handle to a new value without touching its reference
// and leaves v inert.
func (v *Value) Move() *Value {
	if v == nil {
		return &Value{}
	}
	out := &Value{backend: v.backend, handle: v.handle}
	v.handle = nil
	return out
}

// Release drops the value's reference. It is safe to call more than once.
func (v *Value) Release() {
	if !v.Valid() {
		return
	}
	h := v.handle
	v.handle = nil
	h.Release()
}

// GCHandle is the handle used by backends whose guest garbage collector owns
// every object. The zero-cost ownership operations keep the tagged value
// alive simply by holding it.
type GCHandle struct {
	// V is the backend-native tagged value.
	V any
}

// Clone returns the same tagged value.
func (h GCHandle) Clone() Handle { return h }

// Release does nothing; the guest collector owns the object.
func (h GCHandle) Release() {}
