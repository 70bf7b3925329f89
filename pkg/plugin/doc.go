// Package plugin locates measure classes in guest source files and hands
// them to the host as measure.Measure values.
//
// A Loader composes Exec and Eval calls on a scripting.Engine. The guest
// code it submits comes from the backend's Dialect, so the loader itself is
// language neutral:
//
//	engine, _ := loader.Load(ctx, "lua", nil)
//	pl, _ := plugin.NewLoader(engine, plugin.WithCatalog(store))
//
//	found, err := pl.Discover(ctx, "measures/add_roof.lua")
//	if scripting.IsDiscoveryError(err) {
//		// zero or several measure classes in the file
//	}
//	defer found.Measure.Close()
//
// Discover imports the file under a fresh module name on every call. Load
// imports it under the class name and always re-runs the file, so edits
// between calls are picked up. A Watcher reports such edits.
package plugin
