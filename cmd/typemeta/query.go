package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [prefix]",
		Short: "List the names in the container",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openReader()
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) > 0 {
				prefix = args[0]
			}

			var out []CLIEntry
			for _, e := range r.Entries() {
				if !strings.HasPrefix(e.Name, prefix) {
					continue
				}
				ce := CLIEntry{Name: e.Name, Alias: e.Alias, Size: e.Length}
				if !e.Alias {
					rec, err := r.Record(e.Name)
					if err != nil {
						return fmt.Errorf("decoding %s: %w", e.Name, err)
					}
					ce.Kind = rec.Kind.String()
				}
				out = append(out, ce)
			}
			return a.output(cmd, "list", out)
		},
	}
}

func (a *app) newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print the record for a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openReader()
			if err != nil {
				return err
			}
			rec, err := r.Record(args[0])
			if err != nil {
				return err
			}
			return a.output(cmd, "show", rec)
		},
	}
}

func (a *app) newRefsCmd() *cobra.Command {
	var missingOnly bool

	cmd := &cobra.Command{
		Use:   "refs <name>",
		Short: "List the names a record depends on",
		Long:  "Walks references from a record breadth-first. Names the container does not define are reported as missing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openReader()
			if err != nil {
				return err
			}
			deps, err := r.Dependencies(args[0])
			if err != nil {
				return err
			}
			missing, err := r.Missing(args[0])
			if err != nil {
				return err
			}
			if missingOnly {
				deps = missing
			}
			return a.output(cmd, "refs", CLIRefs{Name: args[0], Dependencies: deps, Missing: missing})
		},
	}
	cmd.Flags().BoolVar(&missingOnly, "missing", false, "only list names the container does not define")
	return cmd
}
