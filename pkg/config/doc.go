// Package config loads the froyo-script host configuration.
//
// Configuration is read from YAML (.yaml, .yml) or CUE (.cue) over the
// built-in defaults, then validated with struct tags. CUE files are unified
// with the #Config schema before decoding, so type and enum mistakes are
// reported with file positions:
//
//	backend:    "starlark"
//	module_dir: "modules"
//	catalog: {
//		enabled: true
//		path:    "measures.db"
//	}
//	watch: debounce: "250ms"
//
// Relative paths in a file are resolved against the file's directory.
// ApplyEnv lets FROYO_BACKEND, FROYO_MODULE_DIR, FROYO_HOME and LOG_LEVEL
// override the file.
package config
