package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-script/pkg/measure"
	"github.com/openfroyo/froyo-script/pkg/plugin"
)

func newWatchCommand() *cobra.Command {
	var className string

	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Reload measures whenever their files change",
		Long: `Watch measure files and directories and reload every changed file
of the selected backend. Without --class each change runs discovery; with
--class the named class is reloaded.

Paths default to watch.paths from the configuration.`,
		Example: `  froyo-script watch -b lua ./measures
  froyo-script watch -b javascript --class Insulate measures/insulate.js`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			paths := args
			if len(paths) == 0 {
				paths = s.cfg.Watch.Paths
			}
			if len(paths) == 0 {
				return fmt.Errorf("nothing to watch: give paths or set watch.paths")
			}

			pl, err := s.pluginLoader(ctx)
			if err != nil {
				return err
			}

			reload := func(ctx context.Context, path string) {
				var (
					m   measure.Measure
					err error
				)
				if className != "" {
					m, err = pl.Load(ctx, path, className)
				} else {
					var found *plugin.Discovered
					if found, err = pl.Discover(ctx, path); err == nil {
						m = found.Measure
					}
				}
				if err != nil {
					s.logger.Error().Err(err).Str("file", path).Msg("Measure reload failed")
					return
				}
				defer m.Close()

				r, err := describe(ctx, m, path, s.cfg.Backend, runOptions{})
				if err != nil {
					s.logger.Error().Err(err).Str("file", path).Msg("Measure inspection failed")
					return
				}
				if err := printReport(cmd, r); err != nil {
					s.logger.Error().Err(err).Msg("Failed to print report")
				}
			}

			w := plugin.NewWatcher(s.cfg.WatcherConfig(s.logger, s.tel))
			if err := w.Watch(ctx, paths, reload); err != nil {
				return err
			}

			<-w.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&className, "class", "", "reload this class instead of running discovery")

	return cmd
}
