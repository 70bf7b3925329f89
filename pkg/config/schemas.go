package config

// configSchema constrains CUE configuration files. Fields mirror the YAML
// names of Config; anything not listed is rejected.
const configSchema = `
#Duration: string & =~ #"^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"# | int & >=0

#Backend: "lua" | "javascript" | "starlark"

#Config: {
	// Guest language backend.
	backend?: #Backend

	// Directory holding backend libraries and guest homes.
	module_dir?: string & !=""

	// Guest home override for every backend.
	home?: string

	// Exposed to guest code as openstudio.argv.
	args?: [...string]

	prefer_dynamic?: bool

	catalog?: {
		enabled?: bool
		path?:    string & !=""
	}

	watch?: {
		paths?:    [...string]
		debounce?: #Duration
	}

	telemetry?: {
		service_name?:    string
		service_version?: string
		environment?:     string
		logging?: {
			level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
			format?: "console" | "json"
			...
		}
		tracing?: {
			exporter?:       "otlp" | "stdout" | "none"
			sampling_rate?:  number & >=0 & <=1
			export_timeout?: #Duration
			...
		}
		...
	}
}
`
