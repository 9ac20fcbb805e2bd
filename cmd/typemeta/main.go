package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jward/typemeta"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// app carries state shared by every subcommand of one invocation.
type app struct {
	v       *viper.Viper
	cfg     *Config
	logger  *zap.Logger
	root    string
	cfgFile string
	format  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	cmd := &cobra.Command{
		Use:           "typemeta",
		Short:         "Compile TypeScript type metadata into an indexed binary container",
		Long:          "typemeta extracts declared types from TypeScript sources and writes them to a compact container that can be queried without a TypeScript toolchain.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		// No Run, prints help by default.
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: typemeta.yaml in the working directory)")
	flags.String("out", "", "container path (default: types.tmeta)")
	flags.StringVar(&a.format, "format", "text", "output format: json|text")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(a.newBuildCmd())
	cmd.AddCommand(a.newListCmd())
	cmd.AddCommand(a.newShowCmd())
	cmd.AddCommand(a.newRefsCmd())
	cmd.AddCommand(a.newScriptCmd())
	cmd.AddCommand(a.newWatchCmd())
	return cmd
}

// flagKeys are the config keys a command line flag may override.
var flagKeys = []string{"out", "workers", "parallel"}

func (a *app) setup(cmd *cobra.Command) error {
	if err := validateFormat(a.format); err != nil {
		return err
	}
	for _, key := range flagKeys {
		if f := cmd.Flags().Lookup(key); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting cwd: %w", err)
	}
	a.root = wd

	cfg, err := loadConfig(a.v, wd, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(a.verbose)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	a.logger = logger
	return nil
}

// newLogger returns a development logger when verbose, else a production
// logger that only reports warnings and errors.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}

// newEngine creates an Engine from the loaded configuration.
func (a *app) newEngine() (*typemeta.Engine, error) {
	backend, err := a.cfg.openBackend(a.root)
	if err != nil {
		return nil, err
	}
	opts := []typemeta.Option{
		typemeta.WithCache(backend),
		typemeta.WithLogger(a.logger),
		typemeta.WithParallel(a.cfg.Parallel),
		typemeta.WithWorkers(a.cfg.Workers),
	}
	if len(a.cfg.Extensions) > 0 {
		opts = append(opts, typemeta.WithExtensions(a.cfg.Extensions...))
	}
	e, err := typemeta.New(a.cfg.outPath(a.root), opts...)
	if err != nil {
		if c, ok := backend.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return e, nil
}

// openReader loads the configured container.
func (a *app) openReader() (*typemeta.Reader, error) {
	path := a.cfg.outPath(a.root)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("container not found: %s (run 'typemeta build' first)", path)
	}
	r, err := typemeta.Open(path)
	if err != nil {
		return nil, err
	}
	if vm := r.VersionMismatch(); vm != nil {
		a.logger.Warn("container written by another protocol version", zap.Error(vm))
	}
	return r, nil
}

// resolveTargetDir returns the absolute path of the directory to build.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}
