package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/typemeta"
	"github.com/jward/typemeta/internal/meta"
	"github.com/jward/typemeta/internal/runtime"
)

func (a *app) newScriptCmd() *cobra.Command {
	var emit string

	cmd := &cobra.Command{
		Use:   "script <file.risor>",
		Short: "Run a Risor script against the container",
		Long: "Runs a Risor script with the container's names, records and dependency walks as globals, when a container exists. " +
			"Records the script declares are written to a separate container with --emit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving script path %q: %w", args[0], err)
			}

			var src runtime.Source
			if _, err := os.Stat(a.cfg.outPath(a.root)); err == nil {
				r, err := a.openReader()
				if err != nil {
					return err
				}
				src = r
			}

			rt := runtime.NewRuntime(src, filepath.Dir(script), runtime.WithLogger(a.logger))
			if err := rt.RunScript(cmd.Context(), filepath.Base(script), nil); err != nil {
				return err
			}

			batch := rt.Declared()
			result := CLIScript{Script: script, Declared: batch.Names()}
			if emit != "" && len(batch.Records) > 0 {
				e, err := typemeta.New(emit, typemeta.WithLogger(a.logger))
				if err != nil {
					return fmt.Errorf("creating engine: %w", err)
				}
				defer e.Close()
				res, err := e.BuildRecords(cmd.Context(), []*meta.Batch{batch})
				if err != nil {
					return fmt.Errorf("emitting: %w", err)
				}
				result.Emitted = res
			}
			return a.output(cmd, "script", result)
		},
	}
	cmd.Flags().StringVar(&emit, "emit", "", "write declared records to this container path")
	return cmd
}
