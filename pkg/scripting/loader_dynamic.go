//go:build linux || darwin || freebsd

package scripting

import (
	"fmt"
	"os"
	"plugin"
)

// openFactory opens a backend shared library and looks up its factory.
func openFactory(path string) (Factory, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("backend library not found: %w", err)
	}

	lib, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backend library: %w", err)
	}

	sym, err := lib.Lookup(FactorySymbol)
	if err != nil {
		return nil, fmt.Errorf("factory symbol %s not found: %w", FactorySymbol, err)
	}

	switch f := sym.(type) {
	case func(BackendConfig) (Engine, error):
		return f, nil
	case *Factory:
		return *f, nil
	case *func(BackendConfig) (Engine, error):
		return *f, nil
	default:
		return nil, fmt.Errorf("factory symbol %s has unexpected type %T", FactorySymbol, sym)
	}
}
