//go:build !(linux || darwin || freebsd)

package scripting

import (
	"fmt"
	"runtime"
)

// openFactory reports that shared library backends are unsupported here.
func openFactory(path string) (Factory, error) {
	return nil, fmt.Errorf("dynamic backend libraries are not supported on %s (wanted %s)", runtime.GOOS, path)
}
