package scripting

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// FactorySymbol is the symbol a backend shared library must export. Its type
// must be func(BackendConfig) (Engine, error).
const FactorySymbol = "NewScriptEngine"

// BackendInfo describes an in-process backend registration.
type BackendInfo struct {
	// Name is the logical backend name.
	Name string

	// Description is a short human-readable description.
	Description string

	// Reinit reports whether the backend can be finalized and brought up
	// again within one process. Callers must treat reset+recreate as allowed
	// only once per process for backends where this is false.
	Reinit bool
}

type registration struct {
	info    BackendInfo
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register makes a backend available by name. Backends call it from init;
// binaries link them with a blank import. Registering a name twice replaces
// the earlier factory.
func Register(info BackendInfo, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if info.Name == "" || factory == nil {
		return
	}
	registry[info.Name] = registration{info: info, factory: factory}
}

// Backends returns the in-process registrations sorted by name.
func Backends() []BackendInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]BackendInfo, 0, len(registry))
	for _, r := range registry {
		out = append(out, r.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func lookupFactory(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	return r.factory, ok
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// ModuleDir is the directory holding backend shared libraries and, by
	// default, the per-backend guest home directories.
	ModuleDir string

	// Home overrides the guest home directory for every backend.
	Home string

	// PreferDynamic makes the loader open the shared library even when the
	// backend is linked into the binary.
	PreferDynamic bool

	// Logger is handed to the backends.
	Logger zerolog.Logger
}

// Loader resolves a logical backend name to a constructed engine.
type Loader struct {
	config LoaderConfig
	logger zerolog.Logger
	open   func(path string) (Factory, error)
}

// NewLoader creates a runtime loader.
func NewLoader(cfg LoaderConfig) *Loader {
	return &Loader{
		config: cfg,
		logger: cfg.Logger.With().Str("component", "runtime-loader").Logger(),
		open:   openFactory,
	}
}

// LibraryName returns the platform shared library file name for a backend.
func LibraryName(name string) string {
	ext := ".so"
	switch runtime.GOOS {
	case "darwin":
		ext = ".dylib"
	case "windows":
		ext = ".dll"
	}
	return "libfroyo_" + name + "_engine" + ext
}

// LibraryPath returns the full path the loader opens for a backend.
func (l *Loader) LibraryPath(name string) string {
	return filepath.Join(l.config.ModuleDir, LibraryName(name))
}

// HomeFor returns the guest home directory for a backend.
func (l *Loader) HomeFor(name string) string {
	if l.config.Home != "" {
		return l.config.Home
	}
	return filepath.Join(l.config.ModuleDir, name)
}

// Load constructs the named backend with the given process arguments. Every
// failure is reported as a BackendUnavailable error naming the backend and
// the cause.
func (l *Loader) Load(ctx context.Context, name string, args []string) (Engine, error) {
	cfg := BackendConfig{
		Name:   name,
		Args:   append([]string(nil), args...),
		Home:   l.HomeFor(name),
		Logger: l.config.Logger,
	}

	factory, linked := lookupFactory(name)
	source := "linked"
	if !linked || l.config.PreferDynamic {
		path := l.LibraryPath(name)
		f, err := l.open(path)
		if err != nil {
			return nil, NewBackendUnavailableError(name, "failed to load backend library", err).
				WithLibrary(path, FactorySymbol)
		}
		factory = f
		source = path
	}

	l.logger.Debug().
		Str("backend", name).
		Str("source", source).
		Str("home", cfg.Home).
		Msg("Constructing backend")

	engine, err := construct(factory, cfg)
	if err != nil {
		e := NewBackendUnavailableError(name, "backend construction failed", err)
		if source != "linked" {
			e = e.WithLibrary(source, FactorySymbol)
		}
		return nil, e
	}

	if err := ctx.Err(); err != nil {
		_ = engine.Close()
		return nil, NewBackendUnavailableError(name, "backend load cancelled", err)
	}

	l.logger.Info().Str("backend", name).Str("source", source).Msg("Backend loaded")
	return engine, nil
}

// construct invokes the factory, converting a panic during interpreter
// bring-up into an error.
func construct(factory Factory, cfg BackendConfig) (engine Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			engine = nil
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()

	engine, err = factory(cfg)
	if err == nil && engine == nil {
		err = fmt.Errorf("factory returned a nil engine")
	}
	return engine, err
}
