package commands

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-script/pkg/stores"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the measure catalog",
		Long: `The catalog records every measure file discovered or loaded while
catalog.enabled is set, with its class, kind, checksum and load history.`,
	}

	cmd.AddCommand(newCatalogListCommand())
	cmd.AddCommand(newCatalogHistoryCommand())

	return cmd
}

func newCatalogListCommand() *cobra.Command {
	var filter stores.MeasureFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued measures",
		Example: `  froyo-script catalog list
  froyo-script catalog list --kind ModelMeasure --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if backend != "" {
				filter.Backend = s.cfg.Backend
			}
			measures, err := s.store.ListMeasures(ctx, filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd, measures)
			}
			if len(measures) == 0 {
				fmt.Fprintln(out(cmd), "No measures catalogued")
				return nil
			}

			w := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tBACKEND\tCLASS\tKIND\tLOADS\tLAST LOADED")
			for _, m := range measures {
				last := "-"
				if m.LastLoadedAt != nil {
					last = m.LastLoadedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", m.Path, m.Backend, m.ClassName, m.Kind, m.LoadCount, last)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&filter.Kind, "kind", "", "only measures of this kind (e.g. ModelMeasure)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of rows (0 for all)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "rows to skip")

	return cmd
}

func newCatalogHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [file]",
		Short: "Show recent discoveries and loads",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			var path *string
			if len(args) == 1 {
				abs := absPath(args[0])
				path = &abs
			}
			loads, err := s.store.ListLoads(ctx, path, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd, loads)
			}

			w := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tMODE\tSTATUS\tBACKEND\tCLASS\tPATH\tDURATION")
			for _, rec := range loads {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\n",
					rec.CreatedAt.Local().Format(time.DateTime),
					rec.Mode, rec.Status, rec.Backend, rec.ClassName, rec.Path, rec.DurationMS)
				if rec.Error != nil {
					fmt.Fprintf(w, "\t\t\t\t\terror: %s\t\n", *rec.Error)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")

	return cmd
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
