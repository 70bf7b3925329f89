package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-script/pkg/plugin"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Backend != "lua" {
		t.Errorf("Backend = %q, want lua", cfg.Backend)
	}
	if cfg.Watch.Debounce != plugin.DefaultDebounce {
		t.Errorf("Debounce = %v", cfg.Watch.Debounce)
	}
	if filepath.Base(cfg.ModuleDir) != "modules" {
		t.Errorf("ModuleDir = %q, want .../modules", cfg.ModuleDir)
	}
}

func TestLoadYAML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:  "empty document keeps defaults",
			input: "",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Backend != "lua" {
					t.Errorf("Backend = %q", cfg.Backend)
				}
			},
		},
		{
			name: "full",
			input: `
backend: javascript
module_dir: /opt/froyo/modules
home: /opt/froyo/home
args: [host, --verbose]
prefer_dynamic: true
catalog:
  enabled: true
  path: /var/lib/froyo.db
watch:
  paths: [measures]
  debounce: 250ms
telemetry:
  logging:
    level: debug
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Backend != "javascript" || cfg.Home != "/opt/froyo/home" || !cfg.PreferDynamic {
					t.Errorf("got %+v", cfg)
				}
				if len(cfg.Args) != 2 || cfg.Args[1] != "--verbose" {
					t.Errorf("Args = %v", cfg.Args)
				}
				if cfg.Watch.Debounce != 250*time.Millisecond {
					t.Errorf("Debounce = %v", cfg.Watch.Debounce)
				}
				if cfg.Telemetry.Logging.Level != "debug" {
					t.Errorf("log level = %q", cfg.Telemetry.Logging.Level)
				}
				// Untouched telemetry settings keep their defaults.
				if cfg.Telemetry.Logging.Format != "console" {
					t.Errorf("log format = %q", cfg.Telemetry.Logging.Format)
				}
			},
		},
		{name: "unknown backend", input: "backend: python\n", wantErr: true},
		{name: "unknown field", input: "backends: lua\n", wantErr: true},
		{name: "catalog without path", input: "catalog:\n  enabled: true\n  path: \"\"\n", wantErr: true},
		{name: "negative debounce", input: "watch:\n  debounce: -1s\n", wantErr: true},
		{name: "bad log level", input: "telemetry:\n  logging:\n    level: loud\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadYAML([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("LoadYAML() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadYAML() error = %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadCUE(t *testing.T) {
	cfg, err := LoadCUE([]byte(`
backend:    "starlark"
module_dir: "/srv/modules"
watch: debounce: "1m30s"
catalog: {
	enabled: true
	path:    ":memory:"
}
telemetry: tracing: exporter: "stdout"
`))
	if err != nil {
		t.Fatalf("LoadCUE() error = %v", err)
	}
	if cfg.Backend != "starlark" || cfg.ModuleDir != "/srv/modules" {
		t.Errorf("got %+v", cfg)
	}
	if cfg.Watch.Debounce != 90*time.Second {
		t.Errorf("Debounce = %v", cfg.Watch.Debounce)
	}
	if !cfg.Catalog.Enabled || cfg.Catalog.Path != ":memory:" {
		t.Errorf("Catalog = %+v", cfg.Catalog)
	}
	if cfg.Telemetry.Tracing.Exporter != "stdout" {
		t.Errorf("exporter = %q", cfg.Telemetry.Tracing.Exporter)
	}
}

func TestLoadCUESchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unknown backend", `backend: "python"`, "backend"},
		{"closed schema", `backends: "lua"`, "backends"},
		{"bad duration", `watch: debounce: "soon"`, "debounce"},
		{"wrong type", `prefer_dynamic: "yes"`, "prefer_dynamic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCUE([]byte(tt.input))
			if err == nil {
				t.Fatal("LoadCUE() succeeded, want error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error %T is not ValidationErrors: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "froyo.yaml")
	if err := os.WriteFile(yamlPath, []byte("backend: lua\nmodule_dir: modules\ncatalog:\n  path: catalog.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("Load(yaml) error = %v", err)
	}
	if cfg.ModuleDir != filepath.Join(dir, "modules") {
		t.Errorf("ModuleDir = %q, want resolved against the file", cfg.ModuleDir)
	}
	if cfg.Catalog.Path != filepath.Join(dir, "catalog.db") {
		t.Errorf("Catalog.Path = %q", cfg.Catalog.Path)
	}

	cuePath := filepath.Join(dir, "froyo.cue")
	if err := os.WriteFile(cuePath, []byte(`backend: "javascript"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if cfg, err := Load(cuePath); err != nil || cfg.Backend != "javascript" {
		t.Errorf("Load(cue) = %+v, %v", cfg, err)
	}

	if _, err := Load(filepath.Join(dir, "froyo.toml")); err == nil {
		t.Error("Load(missing toml) succeeded")
	}
	tomlPath := filepath.Join(dir, "froyo.toml")
	if err := os.WriteFile(tomlPath, []byte("backend = 'lua'"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(tomlPath); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("Load(toml) error = %v, want unsupported format", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBackend:   "starlark",
		EnvModuleDir: "/env/modules",
		EnvLogLevel:  "DEBUG",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if cfg.Backend != "starlark" || cfg.ModuleDir != "/env/modules" {
		t.Errorf("got backend=%q module_dir=%q", cfg.Backend, cfg.ModuleDir)
	}
	if cfg.Home != "" {
		t.Errorf("Home = %q, want unset", cfg.Home)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Telemetry.Logging.Level)
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.Backend = "javascript"
	cfg.Home = "/home/guest"
	cfg.Catalog.Path = "x.db"

	lc := cfg.LoaderConfig(zerolog.Nop())
	if lc.ModuleDir != cfg.ModuleDir || lc.Home != "/home/guest" {
		t.Errorf("LoaderConfig() = %+v", lc)
	}
	if sc := cfg.StoreConfig(); sc.Path != "x.db" {
		t.Errorf("StoreConfig() = %+v", sc)
	}
	wc := cfg.WatcherConfig(zerolog.Nop(), nil)
	if len(wc.Extensions) == 0 || wc.Extensions[0] != ".js" {
		t.Errorf("WatcherConfig().Extensions = %v", wc.Extensions)
	}
}
