package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/froyo-script/pkg/config"
	"github.com/openfroyo/froyo-script/pkg/plugin"
	"github.com/openfroyo/froyo-script/pkg/scripting"
	"github.com/openfroyo/froyo-script/pkg/stores"
	"github.com/openfroyo/froyo-script/pkg/telemetry"
)

// session is the per-invocation host: configuration, telemetry, the lazily
// created engine and the optional measure catalog.
type session struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	loader *scripting.Loader
	lazy   *scripting.Lazy
	store  *stores.SQLiteStore
}

// loadConfig reads the config file and applies environment and flag
// overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)

	if backend != "" {
		cfg.Backend = backend
	}
	if moduleDir != "" {
		cfg.ModuleDir = moduleDir
	}
	if homeDir != "" {
		cfg.Home = homeDir
	}
	if len(guestArgs) > 0 {
		cfg.Args = guestArgs
	}
	if len(cfg.Args) == 0 {
		cfg.Args = os.Args
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openSession sets up telemetry and the lazy engine handle. The catalog is
// opened when it is enabled in the configuration or requireCatalog is set.
func openSession(ctx context.Context, requireCatalog bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	logger := tel.Logger

	s := &session{
		cfg:    cfg,
		tel:    tel,
		logger: logger,
	}
	s.loader = scripting.NewLoader(cfg.LoaderConfig(logger))
	s.lazy = scripting.NewLazy(s.loader, cfg.Backend, cfg.Args, scripting.WithTelemetry(tel))

	if cfg.Catalog.Enabled || requireCatalog {
		store, err := stores.NewSQLiteStore(cfg.StoreConfig())
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		s.store = store
		if err := store.Migrate(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("failed to migrate catalog: %w", err)
		}
	}

	logger.Debug().
		Str("backend", cfg.Backend).
		Str("module_dir", cfg.ModuleDir).
		Bool("catalog", s.store != nil).
		Msg("Session opened")

	return s, nil
}

// engine returns the backend engine, creating it on first use.
func (s *session) engine(ctx context.Context) (scripting.Engine, error) {
	return s.lazy.Engine(ctx)
}

// pluginLoader returns a measure loader over the session's engine.
func (s *session) pluginLoader(ctx context.Context) (*plugin.Loader, error) {
	e, err := s.engine(ctx)
	if err != nil {
		return nil, err
	}
	opts := []plugin.Option{
		plugin.WithLogger(s.logger),
		plugin.WithTelemetry(s.tel),
	}
	if s.store != nil {
		opts = append(opts, plugin.WithCatalog(s.store))
	}
	return plugin.NewLoader(e, opts...)
}

// Close tears the session down in reverse order of construction.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.lazy != nil {
		errs = append(errs, s.lazy.Reset())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.tel != nil {
		// The command context may already be cancelled.
		errs = append(errs, s.tel.Shutdown(context.WithoutCancel(ctx)))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Session shutdown incomplete")
		return err
	}
	return nil
}
