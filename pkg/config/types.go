package config

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-script/pkg/plugin"
	"github.com/openfroyo/froyo-script/pkg/scripting"
	"github.com/openfroyo/froyo-script/pkg/stores"
	"github.com/openfroyo/froyo-script/pkg/telemetry"
)

// Config is the froyo-script host configuration.
type Config struct {
	// Backend is the logical name of the guest language backend.
	Backend string `yaml:"backend" json:"backend" validate:"required,oneof=lua javascript starlark"`

	// ModuleDir holds the backend shared libraries and the default guest
	// home directories.
	ModuleDir string `yaml:"module_dir" json:"module_dir" validate:"required"`

	// Home overrides the guest home directory of every backend.
	Home string `yaml:"home,omitempty" json:"home,omitempty"`

	// Args are exposed to guest code as openstudio.argv.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// PreferDynamic loads backends from shared libraries even when they are
	// linked into the binary.
	PreferDynamic bool `yaml:"prefer_dynamic" json:"prefer_dynamic"`

	Catalog CatalogConfig `yaml:"catalog" json:"catalog"`

	Watch WatchConfig `yaml:"watch" json:"watch"`

	Telemetry *telemetry.Config `yaml:"telemetry" json:"telemetry" validate:"required"`
}

// CatalogConfig configures the measure catalog database.
type CatalogConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the SQLite database file, or ":memory:".
	Path string `yaml:"path" json:"path" validate:"required_if=Enabled true"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Paths are the measure files and directories to watch.
	Paths []string `yaml:"paths,omitempty" json:"paths,omitempty"`

	// Debounce is the quiet period before a change is reported.
	Debounce time.Duration `yaml:"debounce" json:"debounce" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend:   "lua",
		ModuleDir: defaultModuleDir(),
		Catalog: CatalogConfig{
			Enabled: false,
			Path:    "froyo-script.db",
		},
		Watch: WatchConfig{
			Debounce: plugin.DefaultDebounce,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// defaultModuleDir is the "modules" directory next to the running binary.
func defaultModuleDir() string {
	exe, err := executable()
	if err != nil {
		return "modules"
	}
	return filepath.Join(filepath.Dir(exe), "modules")
}

// LoaderConfig returns the runtime loader configuration.
func (c *Config) LoaderConfig(logger zerolog.Logger) scripting.LoaderConfig {
	return scripting.LoaderConfig{
		ModuleDir:     c.ModuleDir,
		Home:          c.Home,
		PreferDynamic: c.PreferDynamic,
		Logger:        logger,
	}
}

// StoreConfig returns the catalog store configuration.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{Path: c.Catalog.Path}
}

// WatcherConfig returns the watcher configuration for the configured
// backend's measure files.
func (c *Config) WatcherConfig(logger zerolog.Logger, tel *telemetry.Telemetry) plugin.WatcherConfig {
	return plugin.WatcherConfig{
		Extensions: plugin.Extensions(c.Backend),
		Debounce:   c.Watch.Debounce,
		Logger:     logger,
		Telemetry:  tel,
	}
}
