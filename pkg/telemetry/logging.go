package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log field names shared by every component of the host.
const (
	FieldComponent = "component"
	FieldBackend   = "backend"
	FieldFile      = "file"
	FieldClass     = "class"
)

// openLogOutput resolves LoggingConfig.Output. The returned closer is nil
// for the standard streams.
func openLogOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output %s: %w", output, err)
	}
	return f, f, nil
}

// NewLogger builds the host logger writing to w.
func NewLogger(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(w).Level(LogLevel(cfg.Level)).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	if cfg.SampleBurst > 0 {
		var next zerolog.Sampler
		if cfg.SampleEvery > 0 {
			next = &zerolog.BasicSampler{N: uint32(cfg.SampleEvery)}
		}
		logger = logger.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SampleBurst),
			Period:      time.Second,
			NextSampler: next,
		})
	}
	return logger
}

// LogLevel maps a configured level name to zerolog, falling back to info.
func LogLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component scopes logger to one part of the host.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str(FieldComponent, name).Logger()
}

// ForBackend tags entries with the guest language backend.
func ForBackend(logger zerolog.Logger, backend string) zerolog.Logger {
	return logger.With().Str(FieldBackend, backend).Logger()
}

// ForMeasure tags entries with a measure source file and, when known, its
// class.
func ForMeasure(logger zerolog.Logger, file, class string) zerolog.Logger {
	ctx := logger.With().Str(FieldFile, file)
	if class != "" {
		ctx = ctx.Str(FieldClass, class)
	}
	return ctx.Logger()
}
