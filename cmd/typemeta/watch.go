package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/typemeta"
)

const defaultDebounce = 100 * time.Millisecond

// watchSkipDirs are never watched, on top of hidden directories.
var watchSkipDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
}

func (a *app) newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Rebuild the container whenever sources change",
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

			return a.watch(cmd.Context(), e, target, debounce, func(res *typemeta.BuildResult) error {
				return a.output(cmd, "build", res)
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "quiet period before a rebuild")
	addBuildFlags(cmd)
	return cmd
}

// watch builds root once, then rebuilds after every burst of changes to
// supported files until ctx is done. Build failures are logged and do not
// stop the watch.
func (a *app) watch(ctx context.Context, e *typemeta.Engine, root string, delay time.Duration, report func(*typemeta.BuildResult) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := addWatchDirs(w, root); err != nil {
		return err
	}

	rebuild := func() error {
		res, err := e.BuildDirectory(ctx, root)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("rebuild failed", zap.Error(err))
			return nil
		}
		return report(res)
	}
	if err := rebuild(); err != nil {
		return err
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && watchable(ev.Name) {
					if err := addWatchDirs(w, ev.Name); err != nil {
						a.logger.Warn("watch directory", zap.String("path", ev.Name), zap.Error(err))
					}
					continue
				}
			}
			if !e.Supported(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			a.logger.Debug("source changed", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := rebuild(); err != nil {
				return err
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func watchable(dir string) bool {
	name := filepath.Base(dir)
	return !watchSkipDirs[name] && (!strings.HasPrefix(name, ".") || name == ".")
}

// addWatchDirs watches root and every watchable directory below it.
func addWatchDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && !watchable(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
