package scripting

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type hostWidget struct{}
type hostGadget struct{}

func TestTypeRegistryLookup(t *testing.T) {
	r := NewTypeRegistry("fake")

	_, err := r.Lookup(reflect.TypeFor[*hostWidget]())
	if !IsUnknownType(err) {
		t.Fatalf("Lookup() unregistered error = %v, want UnknownType", err)
	}
	if !strings.Contains(err.Error(), "*scripting.hostWidget") {
		t.Errorf("error %q should name the host type", err)
	}

	r.Register(reflect.TypeFor[*hostWidget](), "mod.Widget")
	name, err := r.Lookup(reflect.TypeFor[*hostWidget]())
	if err != nil || name != "mod.Widget" {
		t.Errorf("Lookup() = %q, %v; want mod.Widget", name, err)
	}

	// Pointer and value types are distinct identities.
	if _, err := r.Lookup(reflect.TypeFor[hostWidget]()); !IsUnknownType(err) {
		t.Errorf("value type lookup error = %v, want UnknownType", err)
	}
}

func TestTypeRegistryLastWriteWins(t *testing.T) {
	var buf bytes.Buffer
	r := NewTypeRegistry("fake")
	r.SetLogger(zerolog.New(&buf))

	typ := reflect.TypeFor[*hostGadget]()
	if replaced := r.Register(typ, "mod.Gadget"); replaced != "" {
		t.Errorf("first Register() replaced = %q, want empty", replaced)
	}
	if replaced := r.Register(typ, "mod.Gadget"); replaced != "" {
		t.Errorf("same-name Register() replaced = %q, want empty", replaced)
	}
	if buf.Len() != 0 {
		t.Errorf("same-name registration should not warn: %s", buf.String())
	}

	if replaced := r.Register(typ, "other.Gadget"); replaced != "mod.Gadget" {
		t.Errorf("Register() replaced = %q, want mod.Gadget", replaced)
	}
	if !strings.Contains(buf.String(), "re-registered") {
		t.Errorf("conflicting registration should warn, log = %s", buf.String())
	}

	name, _ := r.Lookup(typ)
	if name != "other.Gadget" {
		t.Errorf("Lookup() = %q, want other.Gadget", name)
	}
}

func TestTypeRegistryEntries(t *testing.T) {
	r := NewTypeRegistry("fake")
	r.Register(reflect.TypeFor[*hostWidget](), "mod.Widget")
	r.Register(reflect.TypeFor[*hostGadget](), "mod.Gadget")

	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries() len = %d, want 2", len(entries))
	}
	if entries[0].HostType != "*scripting.hostGadget" || entries[1].GuestName != "mod.Widget" {
		t.Errorf("Entries() = %+v, want sorted by host type", entries)
	}
}
