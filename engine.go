package typemeta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/jward/typemeta/internal/cache"
	"github.com/jward/typemeta/internal/codec"
	"github.com/jward/typemeta/internal/container"
	"github.com/jward/typemeta/internal/frontend"
	"github.com/jward/typemeta/internal/meta"
)

// Engine orchestrates a build: file discovery, change detection against the
// incremental cache, extraction, registration, and the container write.
type Engine struct {
	outPath    string
	backend    cache.Backend
	cache      *cache.Cache
	logger     *zap.Logger
	extensions map[string]bool // nil means every supported extension
	workers    int
	level      int
	built      bool

	// useParallel enables the parallel extraction pipeline.
	useParallel bool
}

// BuildResult summarizes one build.
type BuildResult struct {
	BuildID string `json:"build_id"`
	// Path is the container written.
	Path string `json:"path"`
	// Records counts indexed records, Aliases the extra alias entries.
	Records int `json:"records"`
	Aliases int `json:"aliases"`
	// Encoded counts records encoded this build; Reused counts records whose
	// cached bytes were copied verbatim.
	Encoded int `json:"encoded"`
	Reused  int `json:"reused"`
	// Pruned lists cache declarations that no longer exist.
	Pruned       []string `json:"pruned,omitempty"`
	FilesParsed  int      `json:"files_parsed"`
	FilesSkipped int      `json:"files_skipped"`
	// Failed lists files whose extraction failed. Their declarations are
	// absent from the container.
	Failed []string `json:"failed,omitempty"`
	// Invalidated reports that the cache was discarded before the build.
	Invalidated bool          `json:"invalidated,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache persists incremental state through backend. Without it the
// Engine keeps its cache in memory, so repeated builds from the same Engine
// are still incremental.
func WithCache(backend cache.Backend) Option {
	return func(e *Engine) {
		e.backend = backend
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithParallel controls parallel extraction. When true (default), Build
// parses files on a worker pool, with a single writer goroutine registering
// batches in path order. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithWorkers caps the parse worker pool. Zero or less means one worker per
// CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithExtensions restricts which source extensions the Engine builds.
// Extensions may be given with or without the leading dot.
func WithExtensions(exts ...string) Option {
	return func(e *Engine) {
		if len(exts) == 0 {
			e.extensions = nil
			return
		}
		e.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext != "" && !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			e.extensions[ext] = true
		}
	}
}

// WithCompressionLevel sets the zstd level of the heap (1 fastest to 4 best).
// Zero keeps the default.
func WithCompressionLevel(level int) Option {
	return func(e *Engine) {
		e.level = level
	}
}

// New creates an Engine writing its container to outPath.
func New(outPath string, opts ...Option) (*Engine, error) {
	if outPath == "" {
		return nil, errors.New("typemeta: output path is required")
	}
	e := &Engine{
		outPath:     outPath,
		logger:      zap.NewNop(),
		useParallel: true, // default to parallel extraction
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.level < 0 || e.level > 4 {
		return nil, fmt.Errorf("typemeta: compression level %d out of range", e.level)
	}
	e.cache = cache.Open(e.backend, e.logger)
	return e, nil
}

// Close releases the cache backend when it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// OutPath returns the container path the Engine writes.
func (e *Engine) OutPath() string { return e.outPath }

// Cache returns the incremental cache for inspection.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// ResetCache discards the incremental cache in memory and in its backend,
// so the next build parses every file.
func (e *Engine) ResetCache() error {
	if err := e.cache.Reset(); err != nil {
		return fmt.Errorf("typemeta: reset cache: %w", err)
	}
	return nil
}

// Supported reports whether the Engine builds path.
func (e *Engine) Supported(path string) bool {
	if !frontend.Supported(path) {
		return false
	}
	return e.extensions == nil || e.extensions[strings.ToLower(filepath.Ext(path))]
}

// unit is one source of declarations flowing through Phase C.
type unit struct {
	path  string
	mtime time.Time
	// cached units restore their declarations from cache bytes.
	cached bool
	batch  *meta.Batch
	err    error
	done   chan struct{}
}

// produced is what one unit contributed to the registry.
type produced struct {
	path  string
	mtime time.Time
	names []string
	// anonymous shape names are identical whichever unit registered them.
	anon map[string]bool
}

// build carries the single-writer state of one pass.
type build struct {
	reg    *meta.Registry
	in     *meta.Interner
	units  []produced
	winner map[string]string
	res    *BuildResult
}

func (e *Engine) newBuild() *build {
	return &build{
		reg:    meta.NewRegistry(),
		in:     meta.NewInterner(e.cache.Strings()...),
		winner: make(map[string]string),
		res: &BuildResult{
			Path:        e.outPath,
			Invalidated: e.cache.Invalidated() && !e.built,
		},
	}
}

// Build builds the container from the given source files. Unsupported paths
// are ignored. Paths are committed in sorted order so duplicate names
// resolve deterministically (last registration wins).
//
// Extraction errors on individual files are logged and skipped; processing
// continues. Errors writing the container fail the build.
func (e *Engine) Build(ctx context.Context, paths []string) (*BuildResult, error) {
	start := time.Now()
	b := e.newBuild()

	units, err := e.prepare(paths)
	if err != nil {
		return nil, err
	}
	if e.useParallel {
		err = e.buildParallel(ctx, b, units)
	} else {
		err = e.buildSerial(ctx, b, units)
	}
	if err != nil {
		return nil, err
	}
	return e.finish(b, start)
}

// BuildRecords builds the container from batches a producer already
// extracted. Batches are committed in Source order; batches with a Source
// are tracked in the cache like files.
func (e *Engine) BuildRecords(ctx context.Context, batches []*meta.Batch) (*BuildResult, error) {
	start := time.Now()
	b := e.newBuild()

	sorted := make([]*meta.Batch, 0, len(batches))
	for _, bt := range batches {
		if bt != nil {
			sorted = append(sorted, bt)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Source < sorted[j].Source })

	for _, bt := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.commit(b, &unit{path: bt.Source, mtime: bt.ModTime, batch: bt}); err != nil {
			return nil, err
		}
	}
	return e.finish(b, start)
}

// prepare is Phase A: stat every supported path and check it against the
// cache. Files whose modification time and declarations are unchanged are
// marked cached and never parsed.
func (e *Engine) prepare(paths []string) ([]*unit, error) {
	seen := make(map[string]bool, len(paths))
	var units []*unit
	for _, p := range paths {
		p = filepath.Clean(p)
		if seen[p] || !e.Supported(p) {
			continue
		}
		seen[p] = true
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("prepare %s: %w", p, err)
		}
		u := &unit{path: p, mtime: info.ModTime(), done: make(chan struct{})}
		u.cached = e.cache.FileUnchanged(p, u.mtime)
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].path < units[j].path })
	return units, nil
}

func (e *Engine) buildSerial(ctx context.Context, b *build, units []*unit) error {
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !u.cached {
			u.batch, u.err = frontend.ExtractFile(ctx, u.path)
		}
		if err := e.commit(b, u); err != nil {
			return err
		}
	}
	return nil
}

// commit is the Phase C step for one unit. Only the writer calls it.
func (e *Engine) commit(b *build, u *unit) error {
	if u.cached {
		names, anon, err := e.restore(b, u.path)
		if err == nil {
			b.res.FilesSkipped++
			b.record(u, names, anon)
			return nil
		}
		e.logger.Warn("cached declarations unusable, reparsing",
			zap.String("path", u.path), zap.Error(err))
		u.batch, u.err = frontend.ExtractFile(context.Background(), u.path)
	}

	if u.err != nil {
		e.logger.Warn("extraction failed", zap.String("path", u.path), zap.Error(u.err))
		b.res.Failed = append(b.res.Failed, u.path)
		return nil
	}
	if err := u.batch.Apply(b.reg); err != nil {
		return fmt.Errorf("register %s: %w", u.path, err)
	}
	if u.done != nil {
		b.res.FilesParsed++
	}

	anon := make(map[string]bool)
	for _, s := range u.batch.Shapes {
		if s.Alias == "" {
			anon[s.Name()] = true
		}
	}
	b.record(u, u.batch.Names(), anon)
	return nil
}

// restore decodes a cached file's declarations with the seeded string table
// and registers them with their bytes attached. Nothing is registered
// unless every declaration decodes.
func (e *Engine) restore(b *build, path string) ([]string, map[string]bool, error) {
	decls := e.cache.FileDeclarations(path)
	recs := make([]*meta.Record, len(decls))
	raws := make([][]byte, len(decls))
	for i, d := range decls {
		hash, raw, ok := e.cache.Record(d.Name)
		if !ok || hash != d.Hash || raw == nil {
			return nil, nil, fmt.Errorf("declaration %s: not cached", d.Name)
		}
		rec, err := codec.Decode(raw, b.in.Resolve)
		if err != nil {
			return nil, nil, fmt.Errorf("declaration %s: %w", d.Name, err)
		}
		recs[i], raws[i] = rec, raw
	}
	names := make([]string, len(decls))
	anon := make(map[string]bool)
	for i, rec := range recs {
		if err := b.reg.RegisterEncoded(rec, decls[i].Hash, raws[i]); err != nil {
			return nil, nil, fmt.Errorf("register %s: %w", rec.Name, err)
		}
		names[i] = rec.Name
		if rec.Anonymous() {
			anon[rec.Name] = true
		}
	}
	return names, anon, nil
}

func (b *build) record(u *unit, names []string, anon map[string]bool) {
	for _, n := range names {
		b.winner[n] = u.path
	}
	if u.path == "" {
		return
	}
	b.units = append(b.units, produced{path: u.path, mtime: u.mtime, names: names, anon: anon})
}

// finish canonicalizes, attaches cached bytes, writes the container and
// updates the cache.
func (e *Engine) finish(b *build, start time.Time) (*BuildResult, error) {
	if n := b.reg.Canonicalize(); n > 0 {
		e.logger.Debug("references canonicalized", zap.Int("records", n))
	}

	for _, ent := range b.reg.Entries() {
		name := ent.Record.Name
		hash := ent.Hash
		if hash == "" {
			hash = meta.ContentHash(ent.Record)
		}
		raw, ok := e.cache.Lookup(name, hash)
		switch {
		case ent.Encoded != nil:
			// Restored with its bytes; the lookup only marks it live.
		case ok:
			b.reg.Attach(name, hash, raw)
		default:
			b.reg.Attach(name, hash, nil)
		}
	}

	img, err := container.Build(b.reg, b.in, container.Options{Level: zstd.EncoderLevel(e.level)})
	if err != nil {
		return nil, fmt.Errorf("typemeta: build container: %w", err)
	}
	if err := container.WriteFile(e.outPath, img); err != nil {
		return nil, fmt.Errorf("typemeta: %w", err)
	}

	e.updateCache(b, img)
	e.built = true

	res := b.res
	res.BuildID = e.cache.BuildID()
	res.Records = img.Stats.Records
	res.Aliases = img.Stats.Aliases
	res.Encoded = img.Stats.Encoded
	res.Reused = img.Stats.Reused
	res.Duration = time.Since(start)

	e.logger.Info("build complete",
		zap.String("build_id", res.BuildID),
		zap.String("path", res.Path),
		zap.Int("records", res.Records),
		zap.Int("encoded", res.Encoded),
		zap.Int("reused", res.Reused),
		zap.Int("files_parsed", res.FilesParsed),
		zap.Int("files_skipped", res.FilesSkipped),
		zap.Int("pruned", len(res.Pruned)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (e *Engine) updateCache(b *build, img *container.Image) {
	live := make(map[string]bool)
	for _, ent := range b.reg.Entries() {
		raw, _ := img.Record(ent.Record.Name)
		e.cache.Put(ent.Record.Name, ent.Hash, raw)
		ent.Record.VisitStrings(func(s string) { live[s] = true })
	}
	for _, a := range b.reg.Aliases() {
		live[a.Name] = true
	}

	for _, p := range b.units {
		decls := make([]cache.Declared, 0, len(p.names))
		for _, name := range p.names {
			d := cache.Declared{Name: name}
			ent, ok := b.reg.Entry(name)
			// A rewritten record depends on alias resolution across files,
			// so its file has to be parsed again next build.
			if ok && !ent.Rewritten && (p.anon[name] || b.winner[name] == p.path) {
				d.Hash = ent.Hash
			}
			decls = append(decls, d)
		}
		e.cache.TouchFile(p.path, p.mtime, decls)
	}

	b.res.Pruned = e.cache.Prune()
	e.cache.SetStrings(img.Strings)
	e.cache.Compact(len(live))
	e.cache.NewBuild()
	if err := e.cache.Save(); err != nil {
		// The container is already written; a lost cache only costs time.
		e.logger.Warn("cache save failed", zap.Error(err))
	}
}

// skipDirs are excluded from the fallback directory walk.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// BuildDirectory builds every supported file under root. If root is inside
// a git repository, uses git ls-files to respect .gitignore. Falls back to a
// filesystem walk that honours root/.gitignore when git is unavailable.
func (e *Engine) BuildDirectory(ctx context.Context, root string) (*BuildResult, error) {
	paths, err := e.Discover(ctx, root)
	if err != nil {
		return nil, err
	}
	return e.Build(ctx, paths)
}

// Discover lists the files BuildDirectory would build.
func (e *Engine) Discover(ctx context.Context, root string) ([]string, error) {
	paths, err := e.gitListFiles(ctx, root)
	if err != nil {
		e.logger.Debug("git ls-files unavailable, walking", zap.String("root", root), zap.Error(err))
		paths, err = e.walkListFiles(root)
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under root, filtered to supported extensions.
func (e *Engine) gitListFiles(ctx context.Context, root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		absPath := filepath.Join(root, line)
		if !e.Supported(absPath) {
			continue
		}
		// Deleted but still tracked.
		if _, err := os.Stat(absPath); err != nil {
			continue
		}
		paths = append(paths, absPath)
	}
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem. Skips hidden
// directories, skipDirs, and anything root/.gitignore matches.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		gi = nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if e.Supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

func defaultWorkers(n, items int) int {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return max(1, min(n, items))
}
