package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-script/pkg/scripting"
)

type backendRow struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Reinit      bool   `json:"reinit"`
	Home        string `json:"home"`
	Library     string `json:"library"`
	LibraryOK   bool   `json:"library_present"`
}

func newBackendsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List the guest language backends",
		Long: `List the backends linked into this binary, with the guest home
directory and the shared library path the runtime loader would use.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loader := scripting.NewLoader(cfg.LoaderConfig(zerolog.Nop()))

			var rows []backendRow
			for _, info := range scripting.Backends() {
				lib := loader.LibraryPath(info.Name)
				_, statErr := os.Stat(lib)
				rows = append(rows, backendRow{
					Name:        info.Name,
					Description: info.Description,
					Reinit:      info.Reinit,
					Home:        loader.HomeFor(info.Name),
					Library:     lib,
					LibraryOK:   statErr == nil,
				})
			}

			if jsonOutput {
				return printJSON(cmd, rows)
			}

			w := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tREINIT\tHOME\tDESCRIPTION")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", r.Name, r.Reinit, r.Home, r.Description)
			}
			return w.Flush()
		},
	}

	return cmd
}
