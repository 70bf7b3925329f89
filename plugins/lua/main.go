// Command lua builds the lua backend as a shared library for the
// runtime loader:
//
//	go build -buildmode=plugin -o modules/libfroyo_lua_engine.so ./plugins/lua
package main

import (
	"github.com/openfroyo/froyo-script/pkg/backends/luaengine"
	"github.com/openfroyo/froyo-script/pkg/scripting"
)

// NewScriptEngine is the factory symbol the runtime loader looks up.
func NewScriptEngine(cfg scripting.BackendConfig) (scripting.Engine, error) {
	return luaengine.NewScriptEngine(cfg)
}

func main() {}
