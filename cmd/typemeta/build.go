package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newBuildCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "build [path]",
		Short: "Build the container from a source tree",
		Long:  "Parses changed TypeScript files, restores unchanged ones from the incremental cache, and writes the container.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveTargetDir(args)
			if err != nil {
				return err
			}
			e, err := a.newEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			if force {
				if err := e.ResetCache(); err != nil {
					return err
				}
			}

			res, err := e.BuildDirectory(cmd.Context(), target)
			if err != nil {
				return fmt.Errorf("building: %w", err)
			}
			return a.output(cmd, "build", res)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "discard the cache and rebuild from scratch")
	addBuildFlags(cmd)
	return cmd
}

// addBuildFlags adds the flags that override build settings from the config.
func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().Int("workers", 0, "parse workers (default: GOMAXPROCS)")
	cmd.Flags().Bool("parallel", true, "parse files on a worker pool")
}
