// Package starlarkengine embeds a Starlark interpreter (go.starlark.net) as
// a scripting backend.
//
// Starlark has no class statement, so the openstudio bindings provide
// classes as host values. A measure extends one of the bindings classes and
// passes its methods as keyword arguments:
//
//	def _run(self, args):
//	    return {"added": args["area"]}
//
//	AddRoof = openstudio.ModelMeasure.extend("AddRoof", run = _run)
//
// Each Exec runs as its own file. Its globals are frozen when it returns and
// are predeclared for every later Exec and Eval, so a later chunk may read
// but not rebind an earlier one's names. load() resolves labels under
// <home>/lib only.
package starlarkengine
