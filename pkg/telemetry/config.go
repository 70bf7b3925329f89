package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the logging, tracing, metrics and event settings of a host.
type Config struct {
	ServiceName    string `yaml:"service_name" json:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
	Environment    string `yaml:"environment" json:"environment"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Events  EventsConfig  `yaml:"events" json:"events"`
}

// LoggingConfig configures the host logger. Guest programs own stdout, so
// Output defaults to stderr.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json"`

	// Output is "stdout", "stderr" or a file path opened for append.
	Output string `yaml:"output" json:"output"`

	// Caller adds file:line to every entry.
	Caller bool `yaml:"caller" json:"caller"`

	// SampleBurst, when positive, caps entries per second; after the burst
	// every SampleEvery-th entry is kept.
	SampleBurst int `yaml:"sample_burst" json:"sample_burst" validate:"gte=0"`
	SampleEvery int `yaml:"sample_every" json:"sample_every" validate:"gte=0"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Exporter is "otlp" (gRPC), "stdout" (written to stderr) or "none".
	Exporter string `yaml:"exporter" json:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint string `yaml:"endpoint" json:"endpoint" validate:"required_if=Exporter otlp Enabled true"`

	SamplingRate  float64           `yaml:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`
	BatchSize     int               `yaml:"batch_size" json:"batch_size" validate:"gte=0"`
	ExportTimeout time.Duration     `yaml:"export_timeout" json:"export_timeout" validate:"gte=0"`
	Headers       map[string]string `yaml:"headers" json:"headers"`
	Insecure      bool              `yaml:"insecure" json:"insecure"`
}

// MetricsConfig configures the Prometheus collectors. The HTTP endpoint is
// only served when ListenAddress is set.
type MetricsConfig struct {
	Enabled       bool      `yaml:"enabled" json:"enabled"`
	ListenAddress string    `yaml:"listen_address" json:"listen_address"`
	Path          string    `yaml:"path" json:"path"`
	Namespace     string    `yaml:"namespace" json:"namespace"`
	Buckets       []float64 `yaml:"buckets" json:"buckets"`
}

// EventsConfig configures lifecycle event delivery.
type EventsConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	BufferSize int  `yaml:"buffer_size" json:"buffer_size" validate:"required_if=Enabled true,gte=0"`

	// Async delivers events from a single goroutine instead of inline.
	Async bool `yaml:"async" json:"async"`
}

// DefaultConfig logs at info to stderr, keeps metrics in-process and leaves
// tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "froyo-script",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			BatchSize:     512,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "froyo_script",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first constraint the configuration breaks.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid telemetry setting %s: %q fails %s", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag())
	}
	return err
}
