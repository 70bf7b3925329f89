package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-script/pkg/measure"
)

// measureReport is the printed summary of a discovered or loaded measure.
type measureReport struct {
	File        string         `json:"file"`
	Backend     string         `json:"backend"`
	Class       string         `json:"class"`
	Kind        string         `json:"kind"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Arguments   []string       `json:"arguments"`
	Result      map[string]any `json:"result,omitempty"`
}

type runOptions struct {
	run  bool
	args []string
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.run, "run", false, "call the measure's run() after loading")
	cmd.Flags().StringArrayVar(&o.args, "arg", nil, "run() argument as key=value; values are parsed as JSON when possible (repeatable)")
}

// parseRunArgs turns key=value pairs into run() arguments.
func parseRunArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		args[key] = v
	}
	return args, nil
}

func describe(ctx context.Context, m measure.Measure, file, backend string, opts runOptions) (*measureReport, error) {
	r := &measureReport{
		File:    file,
		Backend: backend,
		Class:   m.ClassName(),
		Kind:    m.Kind().String(),
	}

	var err error
	if r.Name, err = m.Name(ctx); err != nil {
		return nil, err
	}
	if r.Description, err = m.Description(ctx); err != nil {
		return nil, err
	}
	if r.Arguments, err = m.Arguments(ctx); err != nil {
		return nil, err
	}

	if opts.run {
		args, err := parseRunArgs(opts.args)
		if err != nil {
			return nil, err
		}
		if r.Result, err = m.Run(ctx, args); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func printReport(cmd *cobra.Command, r *measureReport) error {
	if jsonOutput {
		return printJSON(cmd, r)
	}

	w := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "File:\t%s\n", r.File)
	fmt.Fprintf(w, "Backend:\t%s\n", r.Backend)
	fmt.Fprintf(w, "Class:\t%s\n", r.Class)
	fmt.Fprintf(w, "Kind:\t%s\n", r.Kind)
	fmt.Fprintf(w, "Name:\t%s\n", r.Name)
	if r.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", r.Description)
	}
	fmt.Fprintf(w, "Arguments:\t%s\n", strings.Join(r.Arguments, ", "))
	if r.Result != nil {
		b, err := json.Marshal(r.Result)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Result:\t%s\n", b)
	}
	return w.Flush()
}

func newDiscoverCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "discover <file>",
		Short: "Find the measure class in a guest file",
		Long: `Import a guest file under a fresh module name and report the one
measure class it defines. Zero or several measure classes is an error.`,
		Example: `  froyo-script discover -b lua measures/add_roof.lua
  froyo-script discover -b javascript --run --arg r_value=30 measures/insulate.js`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			pl, err := s.pluginLoader(ctx)
			if err != nil {
				return err
			}
			found, err := pl.Discover(ctx, args[0])
			if err != nil {
				return err
			}
			defer found.Measure.Close()

			r, err := describe(ctx, found.Measure, args[0], s.cfg.Backend, opts)
			if err != nil {
				return err
			}
			return printReport(cmd, r)
		},
	}

	opts.addFlags(cmd)

	return cmd
}

func newLoadCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "load <file> <class>",
		Short: "Load a known measure class from a guest file",
		Long: `Import a guest file under the class name, always re-running the
file, and instantiate the named class.`,
		Example: `  froyo-script load -b starlark measures/roof.star AddRoof --run --arg area=120`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			pl, err := s.pluginLoader(ctx)
			if err != nil {
				return err
			}
			m, err := pl.Load(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			defer m.Close()

			r, err := describe(ctx, m, args[0], s.cfg.Backend, opts)
			if err != nil {
				return err
			}
			return printReport(cmd, r)
		},
	}

	opts.addFlags(cmd)

	return cmd
}
