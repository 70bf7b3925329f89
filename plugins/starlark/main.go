// Command starlark builds the starlark backend as a shared library for the
// runtime loader:
//
//	go build -buildmode=plugin -o modules/libfroyo_starlark_engine.so ./plugins/starlark
package main

import (
	"github.com/openfroyo/froyo-script/pkg/backends/starlarkengine"
	"github.com/openfroyo/froyo-script/pkg/scripting"
)

// NewScriptEngine is the factory symbol the runtime loader looks up.
func NewScriptEngine(cfg scripting.BackendConfig) (scripting.Engine, error) {
	return starlarkengine.NewScriptEngine(cfg)
}

func main() {}
