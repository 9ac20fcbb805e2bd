package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jward/typemeta"
	"github.com/jward/typemeta/internal/meta/metatest"
)

// fixture is a project directory with a config pointing every output at
// absolute paths inside it.
type fixture struct {
	dir string
	cfg string
	out string
}

func newFixture(t *testing.T, backend string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir: dir,
		cfg: filepath.Join(dir, "typemeta.yaml"),
		out: filepath.Join(dir, "types.tmeta"),
	}
	yaml := fmt.Sprintf("out: %s\ncache:\n  backend: %s\n  path: %s\n", f.out, backend, filepath.Join(dir, ".typemeta", "cache"))
	require.NoError(t, os.WriteFile(f.cfg, []byte(yaml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scenario.ts"), []byte(metatest.ScenarioSource), 0o644))
	return f
}

// run executes the CLI in-process and returns stdout.
func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", f.cfg}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeResult(t *testing.T, out string, results any) string {
	t.Helper()
	var env struct {
		Command string          `json:"command"`
		Results json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	require.NoError(t, json.Unmarshal(env.Results, results))
	return env.Command
}

// =============================================================================
// Config
// =============================================================================

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := loadConfig(newViper(), dir, "")
	require.NoError(t, err)

	assert.Equal(t, "types.tmeta", cfg.Out)
	assert.Equal(t, backendJSON, cfg.Cache.Backend)
	assert.True(t, cfg.Parallel)
	assert.Zero(t, cfg.Workers)
	assert.Empty(t, cfg.Extensions)
	assert.Equal(t, filepath.Join(dir, ".typemeta", "cache.json"), cfg.cachePath(dir))
	assert.Equal(t, filepath.Join(dir, "types.tmeta"), cfg.outPath(dir))
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yaml := "out: build/meta.tmeta\nworkers: 3\nparallel: false\nextensions: [.ts, .mts]\ncache:\n  backend: sqlite\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "typemeta.yaml"), []byte(yaml), 0o644))

	cfg, err := loadConfig(newViper(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, "build/meta.tmeta", cfg.Out)
	assert.Equal(t, 3, cfg.Workers)
	assert.False(t, cfg.Parallel)
	assert.Equal(t, []string{".ts", ".mts"}, cfg.Extensions)
	assert.Equal(t, filepath.Join(dir, ".typemeta", "cache.db"), cfg.cachePath(dir))
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("TYPEMETA_CACHE_BACKEND", "sqlite")
	t.Setenv("TYPEMETA_WORKERS", "2")
	t.Setenv("TYPEMETA_EXTENSIONS", ".ts,.tsx")

	cfg, err := loadConfig(newViper(), t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, backendSQLite, cfg.Cache.Backend)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, []string{".ts", ".tsx"}, cfg.Extensions)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"backend", "cache:\n  backend: redis\n", "invalid cache.backend"},
		{"workers", "workers: -1\n", "invalid workers"},
		{"syntax", "out: [unterminated\n", "reading config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "typemeta.yaml"), []byte(tt.yaml), 0o644))
			_, err := loadConfig(newViper(), dir, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()
	_, err := loadConfig(newViper(), t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.Error(t, validateFormat("yaml"))
}

// =============================================================================
// Commands
// =============================================================================

func TestCLI_BuildAndQuery(t *testing.T) {
	t.Parallel()
	for _, backend := range []string{backendJSON, backendSQLite} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, backend)

			out, err := f.run(t, "build", f.dir, "--format", "json")
			require.NoError(t, err)
			var res typemeta.BuildResult
			assert.Equal(t, "build", decodeResult(t, out, &res))
			assert.Equal(t, 4, res.Records)
			assert.Equal(t, 1, res.FilesParsed)
			assert.FileExists(t, f.out)

			out, err = f.run(t, "build", f.dir, "--format", "json")
			require.NoError(t, err)
			decodeResult(t, out, &res)
			assert.Equal(t, 1, res.FilesSkipped)
			assert.Equal(t, 4, res.Reused)

			out, err = f.run(t, "list")
			require.NoError(t, err)
			assert.Contains(t, out, "NAME")
			for _, name := range []string{"Keys", "Mapped", "Maybe", "Array<string>"} {
				assert.Contains(t, out, name)
			}

			out, err = f.run(t, "list", "Ma", "--format", "json")
			require.NoError(t, err)
			var entries []CLIEntry
			decodeResult(t, out, &entries)
			require.Len(t, entries, 2)
			assert.Equal(t, "Mapped", entries[0].Name)
			assert.Equal(t, "mapped", entries[0].Kind)

			out, err = f.run(t, "show", "Maybe")
			require.NoError(t, err)
			assert.Contains(t, out, "Maybe (conditional)")

			out, err = f.run(t, "refs", "Maybe", "--format", "json")
			require.NoError(t, err)
			var refs CLIRefs
			decodeResult(t, out, &refs)
			assert.Equal(t, []string{"T", "Array<string>", "Array"}, refs.Dependencies)
			assert.Equal(t, []string{"T", "Array"}, refs.Missing)

			out, err = f.run(t, "refs", "Maybe", "--missing")
			require.NoError(t, err)
			assert.Equal(t, "T (missing)\nArray (missing)\n", out)
		})
	}
}

func TestCLI_BuildForceDiscardsCache(t *testing.T) {
	t.Parallel()
	for _, backend := range []string{backendJSON, backendSQLite} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, backend)
			_, err := f.run(t, "build", f.dir)
			require.NoError(t, err)

			out, err := f.run(t, "build", f.dir, "--force", "--format", "json")
			require.NoError(t, err)
			var res typemeta.BuildResult
			decodeResult(t, out, &res)
			assert.Equal(t, 1, res.FilesParsed)
			assert.Equal(t, 4, res.Encoded)

			// The forced build repopulates the same backend.
			out, err = f.run(t, "build", f.dir, "--format", "json")
			require.NoError(t, err)
			res = typemeta.BuildResult{}
			decodeResult(t, out, &res)
			assert.Equal(t, 0, res.FilesParsed)
			assert.Equal(t, 1, res.FilesSkipped)
		})
	}
}

func TestCLI_ShowUnknownName(t *testing.T) {
	t.Parallel()
	f := newFixture(t, backendJSON)
	_, err := f.run(t, "build", f.dir)
	require.NoError(t, err)

	_, err = f.run(t, "show", "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nope")
}

func TestCLI_QueryWithoutContainer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, backendJSON)
	_, err := f.run(t, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run 'typemeta build' first")
}

func TestCLI_InvalidFormat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, backendJSON)
	_, err := f.run(t, "list", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCLI_Script(t *testing.T) {
	t.Parallel()
	f := newFixture(t, backendJSON)
	_, err := f.run(t, "build", f.dir)
	require.NoError(t, err)

	script := filepath.Join(f.dir, "gen.risor")
	src := `
for _, n := range names("Ma") {
	declare({"name": "Boxed" + n, "kind": "generic_alias", "payload": {"base": "Box", "args": [n]}})
}
`
	require.NoError(t, os.WriteFile(script, []byte(src), 0o644))
	emit := filepath.Join(f.dir, "gen.tmeta")

	out, err := f.run(t, "script", script, "--emit", emit, "--format", "json")
	require.NoError(t, err)
	var res CLIScript
	assert.Equal(t, "script", decodeResult(t, out, &res))
	assert.Equal(t, []string{"BoxedMapped", "BoxedMaybe"}, res.Declared)
	require.NotNil(t, res.Emitted)
	assert.Equal(t, 2, res.Emitted.Records)

	r, err := typemeta.Open(emit)
	require.NoError(t, err)
	missing, err := r.Missing("BoxedMapped")
	require.NoError(t, err)
	assert.Equal(t, []string{"Box", "Mapped"}, missing)
}

// =============================================================================
// Watch
// =============================================================================

func TestWatch_RebuildsOnChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, backendJSON)
	e, err := typemeta.New(f.out, typemeta.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer e.Close()

	a := &app{logger: zaptest.NewLogger(t)}
	results := make(chan *typemeta.BuildResult, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.watch(ctx, e, f.dir, 20*time.Millisecond, func(res *typemeta.BuildResult) error {
			results <- res
			return nil
		})
	}()

	select {
	case res := <-results:
		assert.Equal(t, 4, res.Records)
	case <-time.After(10 * time.Second):
		t.Fatal("initial build did not finish")
	}

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "c.ts"), []byte("export enum C { X, Y }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "notes.md"), []byte("ignored\n"), 0o644))

	select {
	case res := <-results:
		assert.Equal(t, 5, res.Records)
		assert.Equal(t, 1, res.FilesParsed)
	case <-time.After(10 * time.Second):
		t.Fatal("no rebuild after change")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatchable(t *testing.T) {
	t.Parallel()
	assert.True(t, watchable("/src/app"))
	assert.True(t, watchable("."))
	assert.False(t, watchable("/src/.git"))
	assert.False(t, watchable("/src/node_modules"))
}
