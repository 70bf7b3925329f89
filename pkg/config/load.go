package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var executable = os.Executable

// Environment variables overriding file settings.
const (
	EnvBackend   = "FROYO_BACKEND"
	EnvModuleDir = "FROYO_MODULE_DIR"
	EnvHome      = "FROYO_HOME"
	EnvLogLevel  = "LOG_LEVEL"
)

// ValidationError is a configuration error with its source location.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Load reads a YAML (.yaml, .yml) or CUE (.cue) configuration file over the
// defaults and validates the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(cfg, data)
	case ".cue":
		err = decodeCUE(cfg, path, data)
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAML parses YAML configuration over the defaults.
func LoadYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(cfg, data); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadCUE parses CUE configuration over the defaults. The document is
// unified with the #Config schema first.
func LoadCUE(data []byte) (*Config, error) {
	cfg := Default()
	if err := decodeCUE(cfg, "inline.cue", data); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func decodeYAML(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func decodeCUE(cfg *Config, filename string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}

	// YAML is a superset of JSON, and the YAML decoder reads durations such
	// as "500ms".
	js, err := unified.MarshalJSON()
	if err != nil {
		return convertCUEErrors(err)
	}
	return decodeYAML(cfg, js)
}

func convertCUEErrors(err error) error {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		return err
	}
	return out
}

// ApplyEnv overrides settings from the process environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Backend = v
	}
	if v, ok := lookup(EnvModuleDir); ok && v != "" {
		c.ModuleDir = v
	}
	if v, ok := lookup(EnvHome); ok && v != "" {
		c.Home = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Telemetry.Logging.Level = strings.ToLower(v)
	}
}

// resolvePaths makes relative paths in the file relative to its directory.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.ModuleDir = abs(c.ModuleDir)
	c.Home = abs(c.Home)
	c.Catalog.Path = abs(c.Catalog.Path)
	for i, p := range c.Watch.Paths {
		c.Watch.Paths[i] = abs(p)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the telemetry settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		out := make(ValidationErrors, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, ValidationError{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			})
		}
		return out
	}
	if err := c.Telemetry.Validate(); err != nil {
		return ValidationErrors{{Path: "Config.Telemetry", Message: err.Error()}}
	}
	return nil
}
