// Command froyo-script hosts guest measure scripts in Lua, JavaScript or
// Starlark.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/froyo-script/cmd/froyo-script/commands"
	"github.com/openfroyo/froyo-script/pkg/telemetry"

	// Backends linked into the binary.
	_ "github.com/openfroyo/froyo-script/pkg/backends/jsengine"
	_ "github.com/openfroyo/froyo-script/pkg/backends/luaengine"
	_ "github.com/openfroyo/froyo-script/pkg/backends/starlarkengine"
)

// Set via -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Used until the configuration is loaded; guest output owns stdout.
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(telemetry.LogLevel(os.Getenv("LOG_LEVEL"))).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}
