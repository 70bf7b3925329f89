// Package luaengine is the Lua backend, built on gopher-lua.
//
// Values returned to the host are reference counted: each live host value
// pins its guest object in openstudio.__refs so the Lua collector cannot
// reclaim it, and openstudio.refcount(obj) reports the current count.
//
// Guest measures subclass the bindings classes with extend:
//
//	local AddRoof = openstudio.ModelMeasure:extend("AddRoof")
//
//	function AddRoof:run(args)
//	  return { r_value = args.r_value * 2 }
//	end
//
// Modules loaded through openstudio.import_file run in their own
// environment table, which falls back to the globals and is stored in
// package.loaded under the module name.
package luaengine
