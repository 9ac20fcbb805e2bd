package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jward/typemeta"
	"github.com/jward/typemeta/internal/meta"
)

// CLIResult is the top-level JSON envelope for every command.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
}

// CLIEntry is one index entry as listed by `typemeta list`.
type CLIEntry struct {
	Name  string `json:"name"`
	Kind  string `json:"kind,omitempty"`
	Alias bool   `json:"alias,omitempty"`
	Size  uint32 `json:"size"`
}

// CLIRefs is the result of `typemeta refs`.
type CLIRefs struct {
	Name         string   `json:"name"`
	Dependencies []string `json:"dependencies"`
	Missing      []string `json:"missing"`
}

// CLIScript is the result of `typemeta script`.
type CLIScript struct {
	Script   string                `json:"script"`
	Declared []string              `json:"declared"`
	Emitted  *typemeta.BuildResult `json:"emitted,omitempty"`
}

// output writes result to the command's stdout in the selected format.
func (a *app) output(cmd *cobra.Command, command string, result any) error {
	w := cmd.OutOrStdout()
	if a.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResult{Command: command, Results: result})
	}
	return outputText(w, result)
}

func outputText(w io.Writer, result any) error {
	switch v := result.(type) {
	case *typemeta.BuildResult:
		formatBuildText(w, v)
	case []CLIEntry:
		formatEntriesText(w, v)
	case *meta.Record:
		return formatRecordText(w, v)
	case CLIRefs:
		formatRefsText(w, v)
	case CLIScript:
		formatScriptText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

func formatBuildText(w io.Writer, res *typemeta.BuildResult) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)

	green.Fprintf(w, "Built %s", res.Path)
	fmt.Fprintf(w, " in %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  records: %d (%d aliases)\n", res.Records, res.Aliases)
	fmt.Fprintf(w, "  encoded: %d, reused: %d\n", res.Encoded, res.Reused)
	fmt.Fprintf(w, "  files:   %d parsed, %d skipped\n", res.FilesParsed, res.FilesSkipped)
	if res.Invalidated {
		yellow.Fprintln(w, "  cache invalidated: protocol version changed")
	}
	if len(res.Pruned) > 0 {
		fmt.Fprintf(w, "  pruned:  %s\n", strings.Join(res.Pruned, ", "))
	}
	for _, f := range res.Failed {
		yellow.Fprintf(w, "  failed:  %s\n", f)
	}
}

func formatEntriesText(w io.Writer, entries []CLIEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSIZE")
	for _, e := range entries {
		kind := e.Kind
		if e.Alias {
			kind = "alias"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", e.Name, kind, e.Size)
	}
	tw.Flush()
}

// formatRecordText prints the record header followed by its JSON payload.
func formatRecordText(w io.Writer, rec *meta.Record) error {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "%s", rec.Name)
	fmt.Fprintf(w, " (%s)\n", rec.Kind)
	data, err := json.MarshalIndent(rec.Payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", data)
	return nil
}

func formatRefsText(w io.Writer, refs CLIRefs) {
	missing := make(map[string]bool, len(refs.Missing))
	for _, m := range refs.Missing {
		missing[m] = true
	}
	red := color.New(color.FgRed)
	for _, d := range refs.Dependencies {
		if missing[d] {
			red.Fprintf(w, "%s (missing)\n", d)
			continue
		}
		fmt.Fprintln(w, d)
	}
}

func formatScriptText(w io.Writer, s CLIScript) {
	fmt.Fprintf(w, "Ran %s: %d records declared\n", s.Script, len(s.Declared))
	if s.Emitted != nil {
		formatBuildText(w, s.Emitted)
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
