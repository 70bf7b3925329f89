package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-script/pkg/scripting"
)

func newExecCommand() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "exec [file|-]",
		Short: "Run guest code for its side effects",
		Long: `Run guest code in the selected backend's top-level scope.

Source comes from --code, a file, or standard input when the file is "-".`,
		Example: `  # Run a Lua file
  froyo-script exec --backend lua setup.lua

  # Run inline JavaScript
  froyo-script exec -b javascript --code 'console.log(openstudio.argv.length)'

  # Pipe Starlark from stdin
  echo 'print(1 + 1)' | froyo-script exec -b starlark -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd, code, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if err := s.lazy.Exec(ctx, source); err != nil {
				return err
			}
			log.Debug().Str("backend", s.cfg.Backend).Msg("Exec completed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&code, "code", "e", "", "inline guest source")

	return cmd
}

func newEvalCommand() *cobra.Command {
	var setup string

	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate a guest expression and print its string value",
		Long: `Evaluate a guest expression and print the result.

The expression must produce a string; convert other values in guest code
(tostring in Lua, String in JavaScript, str in Starlark). --setup runs a
file first in the same scope.`,
		Example: `  froyo-script eval -b lua 'tostring(2 ^ 10)'
  froyo-script eval -b starlark --setup units.star 'str(ft * 3)'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if setup != "" {
				src, err := os.ReadFile(setup)
				if err != nil {
					return fmt.Errorf("failed to read setup file: %w", err)
				}
				if err := s.lazy.Exec(ctx, string(src)); err != nil {
					return err
				}
			}

			v, err := s.lazy.Eval(ctx, args[0])
			if err != nil {
				return err
			}
			defer v.Release()

			e, err := s.engine(ctx)
			if err != nil {
				return err
			}
			str, err := scripting.GetAs[string](e, v)
			if err != nil {
				return fmt.Errorf("expression did not produce a string: %w", err)
			}

			if jsonOutput {
				return printJSON(cmd, map[string]string{"backend": s.cfg.Backend, "value": str})
			}
			fmt.Fprintln(out(cmd), str)
			return nil
		},
	}

	cmd.Flags().StringVar(&setup, "setup", "", "guest file to run before evaluating")

	return cmd
}

func readSource(cmd *cobra.Command, code string, args []string) (string, error) {
	switch {
	case code != "" && len(args) > 0:
		return "", fmt.Errorf("give either --code or a file, not both")
	case code != "":
		return code, nil
	case len(args) == 0:
		return "", fmt.Errorf("no guest source: give a file, \"-\" or --code")
	case args[0] == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), nil
	default:
		b, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read source: %w", err)
		}
		return string(b), nil
	}
}
