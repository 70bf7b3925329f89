package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	backend    string
	moduleDir  string
	homeDir    string
	guestArgs  []string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-script",
		Short: "froyo-script - embeddable guest language host for energy measures",
		Long: `froyo-script hosts one of several interchangeable guest language
interpreters and drives measure plugins written for them.

Backends:
  - lua         (gopher-lua)
  - javascript  (goja, CommonJS require)
  - starlark    (go.starlark.net)

Measure files define one class deriving from openstudio.ModelMeasure,
openstudio.EnergyPlusMeasure or openstudio.ReportingMeasure.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (.yaml, .yml or .cue)")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "guest language backend (lua, javascript, starlark)")
	rootCmd.PersistentFlags().StringVar(&moduleDir, "module-dir", "", "directory holding backend libraries and guest homes")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "guest home directory override")
	rootCmd.PersistentFlags().StringArrayVar(&guestArgs, "guest-arg", nil, "argument exposed to guest code as openstudio.argv (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newDiscoverCommand())
	rootCmd.AddCommand(newLoadCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newCatalogCommand())
	rootCmd.AddCommand(newBackendsCommand())

	return rootCmd
}

// out is where command results go; log output goes to stderr.
func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
