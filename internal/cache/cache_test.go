package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type backendCase struct {
	name string
	open func(t *testing.T, dir string) Backend
}

var backends = []backendCase{
	{"json", func(t *testing.T, dir string) Backend {
		return NewFileBackend(filepath.Join(dir, "cache.json"))
	}},
	{"sqlite", func(t *testing.T, dir string) Backend {
		b, err := OpenSQLite(filepath.Join(dir, "cache.db"))
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	}},
}

var mtime = time.Unix(1700000000, 42)

func populate(c *Cache) {
	c.NewBuild()
	c.SetStrings([]string{"Keys", "Mapped", "K"})
	c.Put("Keys", "h-keys", []byte{6, 0, 1})
	c.Put("Mapped", "h-mapped", []byte{7, 1, 2})
	c.TouchFile("a.ts", mtime, []Declared{{"Mapped", "h-mapped"}, {"Keys", "h-keys"}})
	c.TouchFile("empty.ts", mtime, nil)
}

// =============================================================================
// Persistence
// =============================================================================

func TestCache_SaveOpenRoundTrip(t *testing.T) {
	t.Parallel()
	for _, bc := range backends {
		bc := bc
		t.Run(bc.name, func(t *testing.T) {
			t.Parallel()
			b := bc.open(t, t.TempDir())

			c := Open(b, zaptest.NewLogger(t))
			assert.False(t, c.Invalidated())
			assert.Equal(t, 0, c.Stats().Declarations)
			populate(c)
			id := c.BuildID()
			require.NotEmpty(t, id)
			require.NoError(t, c.Save())

			again := Open(b, zaptest.NewLogger(t))
			assert.False(t, again.Invalidated())
			assert.Equal(t, id, again.BuildID())
			assert.Equal(t, []string{"Keys", "Mapped", "K"}, again.Strings())

			rec, ok := again.Lookup("Keys", "h-keys")
			require.True(t, ok)
			assert.Equal(t, []byte{6, 0, 1}, rec)

			assert.Equal(t, []Declared{{"Mapped", "h-mapped"}, {"Keys", "h-keys"}}, again.FileDeclarations("a.ts"))
			assert.True(t, again.FileUnchanged("a.ts", mtime))
			assert.True(t, again.FileUnchanged("empty.ts", mtime))
		})
	}
}

func TestCache_ResetClearsBackend(t *testing.T) {
	t.Parallel()
	for _, bc := range backends {
		bc := bc
		t.Run(bc.name, func(t *testing.T) {
			t.Parallel()
			b := bc.open(t, t.TempDir())
			c := Open(b, zaptest.NewLogger(t))
			populate(c)
			require.NoError(t, c.Save())

			require.NoError(t, c.Reset())
			assert.Equal(t, Stats{}, c.Stats())
			st, err := b.Load()
			require.NoError(t, err)
			assert.Nil(t, st)

			// Reset twice is fine, and the backend stays usable.
			require.NoError(t, c.Reset())
			populate(c)
			require.NoError(t, c.Save())
			again := Open(b, nil)
			assert.True(t, again.FileUnchanged("a.ts", mtime))
		})
	}
}

func TestCache_SaveLogsStats(t *testing.T) {
	t.Parallel()
	for _, bc := range backends {
		bc := bc
		t.Run(bc.name, func(t *testing.T) {
			t.Parallel()
			core, logs := observer.New(zapcore.DebugLevel)
			c := Open(bc.open(t, t.TempDir()), zap.New(core))
			populate(c)
			require.NoError(t, c.Save())

			saved := logs.FilterMessage("cache saved").All()
			require.Len(t, saved, 1)
			fields := saved[0].ContextMap()
			assert.EqualValues(t, 2, fields["declarations"])
			if bc.name == "sqlite" {
				assert.EqualValues(t, 6, fields["record_bytes"])
			} else {
				assert.NotContains(t, fields, "record_bytes")
			}
		})
	}
}

func TestCache_NilBackend(t *testing.T) {
	t.Parallel()
	c := Open(nil, nil)
	populate(c)
	require.NoError(t, c.Save())
	_, ok := c.Lookup("Keys", "h-keys")
	assert.True(t, ok)
}

func TestCache_VersionMismatchInvalidates(t *testing.T) {
	t.Parallel()
	for _, bc := range backends {
		bc := bc
		t.Run(bc.name, func(t *testing.T) {
			t.Parallel()
			b := bc.open(t, t.TempDir())

			st := NewState()
			st.Version = Version + 1
			st.Declarations["Keys"] = &DeclEntry{Hash: "h", Record: []byte{1}}
			require.NoError(t, b.Save(st))

			core, logs := observer.New(zapcore.WarnLevel)
			c := Open(b, zap.New(core))
			assert.True(t, c.Invalidated())
			assert.Equal(t, 0, c.Stats().Declarations)
			_, ok := c.Lookup("Keys", "h")
			assert.False(t, ok)
			assert.Equal(t, 1, logs.FilterMessage("cache version mismatch, starting empty").Len())

			// The next save replaces the stale state.
			require.NoError(t, c.Save())
			assert.False(t, Open(b, nil).Invalidated())
		})
	}
}

func TestCache_CorruptFileInvalidates(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	core, logs := observer.New(zapcore.WarnLevel)
	c := Open(NewFileBackend(path), zap.New(core))
	assert.True(t, c.Invalidated())
	assert.Equal(t, 1, logs.Len())
}

func TestFileBackend_MissingIsEmpty(t *testing.T) {
	t.Parallel()
	st, err := NewFileBackend(filepath.Join(t.TempDir(), "nope", "cache.json")).Load()
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestFileBackend_SaveCreatesDirAndLeavesNoTemp(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested")
	b := NewFileBackend(filepath.Join(dir, "cache.json"))
	require.NoError(t, b.Save(NewState()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cache.json", entries[0].Name())
}

// =============================================================================
// Lookup & File Tracking
// =============================================================================

func TestCache_LookupHashMismatchIsMiss(t *testing.T) {
	t.Parallel()
	c := Open(nil, nil)
	populate(c)

	_, ok := c.Lookup("Keys", "other")
	assert.False(t, ok)
	_, ok = c.Lookup("Missing", "h")
	assert.False(t, ok)
	_, ok = c.Lookup("Keys", "h-keys")
	assert.True(t, ok)

	s := c.Stats()
	assert.Equal(t, 1, s.Hits)
	assert.Equal(t, 2, s.Misses)
}

func TestCache_FileUnchanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(c *Cache)
		mtime time.Time
		want  bool
	}{
		{"same mtime", func(c *Cache) {}, mtime, true},
		{"newer mtime", func(c *Cache) {}, mtime.Add(time.Second), false},
		{"unknown file", func(c *Cache) { _ = c.Reset() }, mtime, false},
		{"declaration rehashed", func(c *Cache) { c.Put("Keys", "h-new", []byte{1}) }, mtime, false},
		{"record compacted", func(c *Cache) {
			c.CompactMin = 1
			c.SetStrings([]string{"a", "b", "c"})
			require.True(t, c.Compact(0))
		}, mtime, false},
		{"alias produced", func(c *Cache) {
			c.TouchFile("a.ts", mtime, []Declared{{"Keys", "h-keys"}, {"Old", ""}})
		}, mtime, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Open(nil, nil)
			populate(c)
			tt.setup(c)
			assert.Equal(t, tt.want, c.FileUnchanged("a.ts", tt.mtime))
		})
	}
}

// =============================================================================
// Prune & Compact
// =============================================================================

func TestCache_PruneDropsUntouched(t *testing.T) {
	t.Parallel()
	b := NewFileBackend(filepath.Join(t.TempDir(), "cache.json"))
	c := Open(b, nil)
	populate(c)
	c.Put("Gone", "h-gone", []byte{9})
	c.TouchFile("gone.ts", mtime, []Declared{{"Gone", "h-gone"}})
	assert.Empty(t, c.Prune())
	require.NoError(t, c.Save())

	// Second pass: a.ts unchanged, gone.ts deleted.
	c = Open(b, nil)
	for _, d := range c.FileDeclarations("a.ts") {
		_, ok := c.Lookup(d.Name, d.Hash)
		require.True(t, ok)
	}
	c.TouchFile("a.ts", mtime, c.FileDeclarations("a.ts"))
	c.TouchFile("empty.ts", mtime, nil)

	assert.Equal(t, []string{"Gone"}, c.Prune())
	assert.Nil(t, c.FileDeclarations("gone.ts"))
	s := c.Stats()
	assert.Equal(t, 2, s.Declarations)
	assert.Equal(t, 2, s.Files)
}

func TestCache_LookupKeepsCompactedDeclarationAlive(t *testing.T) {
	t.Parallel()
	c := Open(nil, nil)
	c.Put("Keys", "h-keys", nil)
	c.Prune()

	_, ok := c.Lookup("Keys", "h-keys")
	assert.False(t, ok)
	assert.Empty(t, c.Prune())
	hash, _, ok := c.Record("Keys")
	require.True(t, ok)
	assert.Equal(t, "h-keys", hash)
}

func TestCache_Compact(t *testing.T) {
	t.Parallel()

	strs := make([]string, 10)
	for i := range strs {
		strs[i] = string(rune('a' + i))
	}

	tests := []struct {
		name    string
		min     int
		live    int
		compact bool
	}{
		{"below minimum", 100, 0, false},
		{"half live", 1, 5, false},
		{"mostly live", 1, 9, false},
		{"mostly dead", 1, 4, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Open(nil, nil)
			c.CompactMin = tt.min
			c.SetStrings(strs)
			c.Put("Keys", "h-keys", []byte{1, 2})

			assert.Equal(t, tt.compact, c.Compact(tt.live))
			hash, rec, ok := c.Record("Keys")
			require.True(t, ok)
			assert.Equal(t, "h-keys", hash)
			if tt.compact {
				assert.Empty(t, c.Strings())
				assert.Nil(t, rec)
			} else {
				assert.Len(t, c.Strings(), 10)
				assert.Equal(t, []byte{1, 2}, rec)
			}
		})
	}
}

func TestCache_NewBuildChangesID(t *testing.T) {
	t.Parallel()
	c := Open(nil, nil)
	a := c.NewBuild()
	b := c.NewBuild()
	assert.NotEqual(t, a, b)
	assert.Equal(t, b, c.BuildID())
}
