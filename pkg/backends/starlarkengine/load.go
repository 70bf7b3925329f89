package starlarkengine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
)

// loadCache resolves load() statements against <home>/lib. Each module is
// executed at most once per interpreter.
type loadCache struct {
	engine *Engine
	cache  map[string]*loadEntry
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

func newLoadCache(e *Engine) *loadCache {
	return &loadCache{engine: e, cache: make(map[string]*loadEntry)}
}

func (c *loadCache) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	if module == "openstudio" {
		return starlark.StringDict{"openstudio": c.engine.bindings}, nil
	}

	path, err := c.resolve(module)
	if err != nil {
		return nil, err
	}

	entry, ok := c.cache[path]
	if ok {
		if entry == nil {
			return nil, fmt.Errorf("cycle in load graph involving %s", module)
		}
		return entry.globals, entry.err
	}

	// A nil entry marks a load in progress.
	c.cache[path] = nil

	src, err := os.ReadFile(path)
	if err != nil {
		delete(c.cache, path)
		return nil, fmt.Errorf("cannot load %s: %w", module, err)
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, path, src, c.engine.baseEnv())
	c.cache[path] = &loadEntry{globals: globals, err: err}
	return globals, err
}

// resolve maps a load() label to a file under <home>/lib. Labels may not
// escape the library directory.
func (c *loadCache) resolve(module string) (string, error) {
	home := c.engine.home
	if home == "" {
		return "", fmt.Errorf("cannot load %s: no guest home directory", module)
	}
	lib := filepath.Join(home, "lib")

	rel := filepath.FromSlash(strings.TrimPrefix(module, "//"))
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("cannot load %s: absolute paths are not allowed", module)
	}
	path := filepath.Join(lib, rel)
	if r, err := filepath.Rel(lib, path); err != nil || strings.HasPrefix(r, "..") {
		return "", fmt.Errorf("cannot load %s: outside %s", module, lib)
	}
	return path, nil
}
