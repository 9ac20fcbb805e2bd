package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/typemeta/internal/meta"
)

const scriptExt = ".risor"

// Source is the read side of a loaded metadata container.
type Source interface {
	Names() []string
	Record(name string) (*meta.Record, error)
	Dependencies(name string) ([]string, error)
	Missing(name string) ([]string, error)
}

// Runtime runs Risor scripts against an optional container. Scripts get
// tree-sitter access to TypeScript sources and may declare records of
// their own, which collect in a batch the engine can commit.
type Runtime struct {
	source     Source
	scriptsDir string
	fsys       fs.FS
	logger     *zap.Logger
	trees      *trees
	declared   *meta.Batch
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts and their imports from fsys rather than disk.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithLogger routes the script log object to logger.
func WithLogger(logger *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// NewRuntime creates a Runtime reading from src (which may be nil) with
// scripts resolved against scriptsDir.
func NewRuntime(src Source, scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		source:     src,
		scriptsDir: scriptsDir,
		logger:     zap.NewNop(),
		trees:      newTrees(),
		declared:   &meta.Batch{Source: "<script>"},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Declared returns the records and shapes scripts declared so far.
func (r *Runtime) Declared() *meta.Batch {
	return r.declared
}

// RunScript runs the script at path. extra globals override the built-in
// ones of the same name.
func (r *Runtime) RunScript(ctx context.Context, path string, extra map[string]any) error {
	src, err := r.LoadScript(path)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, path, extra)
}

// RunSource runs inline Risor code.
func (r *Runtime) RunSource(ctx context.Context, source string, extra map[string]any) error {
	return r.eval(ctx, source, "<inline>", extra)
}

// LoadScript returns the text of a script. Relative paths resolve against
// the scripts directory, or the root of the configured fs.FS.
func (r *Runtime) LoadScript(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if r.fsys != nil {
		path = strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err = fs.ReadFile(r.fsys, path)
	} else {
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.scriptsDir, path)
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", path, err)
	}
	return string(data), nil
}

func (r *Runtime) eval(ctx context.Context, source, label string, extra map[string]any) error {
	globals := r.globals(extra)
	opts := make([]risor.Option, 0, len(globals)+1)
	names := make([]string, 0, len(globals))
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
		names = append(names, name)
	}
	slices.Sort(names)
	if imp := r.importer(names); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return nil
}

// importer resolves `import` statements next to the scripts. Imported
// modules see the same globals as the importing script.
func (r *Runtime) importer(globals []string) importer.Importer {
	switch {
	case r.fsys != nil:
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globals,
			SourceFS:    r.fsys,
			Extensions:  []string{scriptExt},
		})
	case r.scriptsDir != "":
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globals,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{scriptExt},
		})
	default:
		return nil
	}
}

func (r *Runtime) globals(extra map[string]any) map[string]any {
	g := map[string]any{
		"parse":      makeParseFn(r.trees),
		"parse_src":  makeParseSrcFn(r.trees),
		"node_text":  makeNodeTextFn(r.trees),
		"node_child": makeNodeChildFn(),
		"query":      makeQueryFn(r.trees),
		"type_ref":   makeTypeRefFn(r.trees, r.declared),
		"declare":    makeDeclareFn(r.declared),
		"log":        mustProxy(&logObject{logger: r.logger.Named("script")}),
	}
	// Container access only exists once one is loaded.
	if r.source != nil {
		g["names"] = makeNamesFn(r.source)
		g["lookup"] = makeLookupFn(r.source)
		g["kind"] = makeKindFn(r.source)
		g["dependencies"] = makeDependenciesFn(r.source)
		g["missing"] = makeMissingFn(r.source)
	}
	for k, v := range extra {
		g[k] = v
	}
	return g
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
