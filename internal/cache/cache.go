package cache

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCompactMin is the smallest string table Compact will consider
// dropping.
const DefaultCompactMin = 1024

// Cache tracks which declarations and files were seen during one build pass.
// It is not safe for concurrent use; the engine drives it from its single
// writer.
type Cache struct {
	backend Backend
	logger  *zap.Logger
	state   *State

	// CompactMin overrides DefaultCompactMin.
	CompactMin int

	touchedDecls map[string]bool
	touchedFiles map[string]bool
	invalidated  bool
	hits, misses int
}

// Stats summarises the cache after a pass.
type Stats struct {
	Strings      int
	Files        int
	Declarations int
	Hits         int
	Misses       int
}

// Open loads state from backend. A version mismatch or unreadable state
// starts from empty and is logged; the next Save overwrites it. A nil
// backend gives an in-memory cache.
func Open(backend Backend, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		backend:      backend,
		logger:       logger,
		CompactMin:   DefaultCompactMin,
		touchedDecls: make(map[string]bool),
		touchedFiles: make(map[string]bool),
	}
	c.state = c.load()
	return c
}

func (c *Cache) load() *State {
	if c.backend == nil {
		return NewState()
	}
	st, err := c.backend.Load()
	switch {
	case err != nil:
		c.logger.Warn("cache unreadable, starting empty", zap.Error(err))
		c.invalidated = true
		return NewState()
	case st == nil:
		return NewState()
	case st.Version != Version:
		c.logger.Warn("cache version mismatch, starting empty",
			zap.Int("got", st.Version),
			zap.Int("want", Version))
		c.invalidated = true
		return NewState()
	}
	st.normalize()
	c.logger.Debug("cache loaded",
		zap.String("build_id", st.BuildID),
		zap.Int("declarations", len(st.Declarations)),
		zap.Int("files", len(st.Files)))
	return st
}

// Invalidated reports whether Open discarded existing state.
func (c *Cache) Invalidated() bool { return c.invalidated }

// Strings returns the string table cached record bytes refer to. The next
// build must seed its interner with exactly these strings.
func (c *Cache) Strings() []string { return c.state.Strings }

// SetStrings records the string table written by this build.
func (c *Cache) SetStrings(ss []string) {
	c.state.Strings = append([]string(nil), ss...)
}

// Lookup returns cached record bytes for name when the cached hash matches.
// A matching hash keeps the declaration alive through Prune even when its
// bytes were compacted away.
func (c *Cache) Lookup(name, hash string) ([]byte, bool) {
	d, ok := c.state.Declarations[name]
	if !ok || d.Hash != hash {
		c.misses++
		return nil, false
	}
	c.touchedDecls[name] = true
	if d.Record == nil {
		c.misses++
		return nil, false
	}
	c.hits++
	return d.Record, true
}

// Record returns the cached entry for name without touching it.
func (c *Cache) Record(name string) (hash string, record []byte, ok bool) {
	d, ok := c.state.Declarations[name]
	if !ok {
		return "", nil, false
	}
	return d.Hash, d.Record, true
}

// Put stores record bytes for name and marks it live.
func (c *Cache) Put(name, hash string, record []byte) {
	c.state.Declarations[name] = &DeclEntry{Hash: hash, Record: record}
	c.touchedDecls[name] = true
}

// FileDeclarations returns the names and hashes path produced last build,
// in production order.
func (c *Cache) FileDeclarations(path string) []Declared {
	f, ok := c.state.Files[path]
	if !ok {
		return nil
	}
	return f.DeclarationHashes
}

// FileUnchanged reports whether path can skip parsing: its modification
// time matches and every declaration it produced is still cached with the
// same hash and usable bytes.
func (c *Cache) FileUnchanged(path string, mtime time.Time) bool {
	f, ok := c.state.Files[path]
	if !ok || !f.ModifiedTime.Equal(mtime) {
		return false
	}
	for _, fd := range f.DeclarationHashes {
		if fd.Hash == "" {
			return false
		}
		d, ok := c.state.Declarations[fd.Name]
		if !ok || d.Hash != fd.Hash || d.Record == nil {
			return false
		}
	}
	return true
}

// TouchFile records what path produced in this pass.
func (c *Cache) TouchFile(path string, mtime time.Time, decls []Declared) {
	c.state.Files[path] = &FileEntry{ModifiedTime: mtime, DeclarationHashes: decls}
	c.touchedFiles[path] = true
}

// Prune drops files and declarations not touched since Open (or the last
// Prune) and returns the pruned declaration names, sorted.
func (c *Cache) Prune() []string {
	for path := range c.state.Files {
		if !c.touchedFiles[path] {
			delete(c.state.Files, path)
		}
	}
	var pruned []string
	for name := range c.state.Declarations {
		if !c.touchedDecls[name] {
			delete(c.state.Declarations, name)
			pruned = append(pruned, name)
		}
	}
	sort.Strings(pruned)
	c.touchedDecls = make(map[string]bool)
	c.touchedFiles = make(map[string]bool)
	if len(pruned) > 0 {
		c.logger.Debug("cache pruned", zap.Int("declarations", len(pruned)))
	}
	return pruned
}

// Compact drops the string table and every cached record when fewer than
// half of the strings are live. Hashes survive, so the next build still
// detects unchanged declarations but re-encodes them against a fresh table.
func (c *Cache) Compact(live int) bool {
	n := len(c.state.Strings)
	if n < c.CompactMin || live*2 >= n {
		return false
	}
	c.state.Strings = nil
	for _, d := range c.state.Declarations {
		d.Record = nil
	}
	c.logger.Info("cache string table compacted",
		zap.Int("strings", n),
		zap.Int("live", live))
	return true
}

// NewBuild assigns and returns a fresh build ID.
func (c *Cache) NewBuild() string {
	c.state.BuildID = uuid.NewString()
	return c.state.BuildID
}

// BuildID returns the ID of the last completed build.
func (c *Cache) BuildID() string { return c.state.BuildID }

// Save persists state through the backend.
func (c *Cache) Save() error {
	if c.backend == nil {
		return nil
	}
	c.state.Version = Version
	if err := c.backend.Save(c.state); err != nil {
		return err
	}
	if ce := c.logger.Check(zap.DebugLevel, "cache saved"); ce != nil {
		st := c.Stats()
		fields := []zap.Field{
			zap.Int("strings", st.Strings),
			zap.Int("files", st.Files),
			zap.Int("declarations", st.Declarations),
			zap.Int("hits", st.Hits),
			zap.Int("misses", st.Misses),
		}
		if sb, ok := c.backend.(*SQLiteBackend); ok {
			if ss, err := sb.Stats(); err == nil {
				fields = append(fields, zap.Int64("record_bytes", ss.RecordBytes))
			}
		}
		ce.Write(fields...)
	}
	return nil
}

// Reset discards all state, in memory and in the backend.
func (c *Cache) Reset() error {
	c.state = NewState()
	c.touchedDecls = make(map[string]bool)
	c.touchedFiles = make(map[string]bool)
	if c.backend == nil {
		return nil
	}
	return c.backend.Reset()
}

// Stats reports the in-memory state and the lookups since Open.
func (c *Cache) Stats() Stats {
	return Stats{
		Strings:      len(c.state.Strings),
		Files:        len(c.state.Files),
		Declarations: len(c.state.Declarations),
		Hits:         c.hits,
		Misses:       c.misses,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
