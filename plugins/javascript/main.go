// Command javascript builds the javascript backend as a shared library for the
// runtime loader:
//
//	go build -buildmode=plugin -o modules/libfroyo_javascript_engine.so ./plugins/javascript
package main

import (
	"github.com/openfroyo/froyo-script/pkg/backends/jsengine"
	"github.com/openfroyo/froyo-script/pkg/scripting"
)

// NewScriptEngine is the factory symbol the runtime loader looks up.
func NewScriptEngine(cfg scripting.BackendConfig) (scripting.Engine, error) {
	return jsengine.NewScriptEngine(cfg)
}

func main() {}
