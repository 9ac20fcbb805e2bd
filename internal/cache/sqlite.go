package cache

import (
	"fmt"
	"strconv"

	"github.com/jward/typemeta/internal/store"
)

const (
	metaVersion = "version"
	metaBuildID = "build_id"
)

// SQLiteBackend stores state in a SQLite database.
type SQLiteBackend struct {
	store *store.Store
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	s, err := store.NewStore(path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return &SQLiteBackend{store: s}, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error { return b.store.Close() }

// Load reads the whole database back into a State.
func (b *SQLiteBackend) Load() (*State, error) {
	snap, err := b.store.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	v, ok := snap.Meta[metaVersion]
	if !ok {
		return nil, nil
	}
	version, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("cache version %q: %w", v, err)
	}

	st := &State{
		Version:      version,
		BuildID:      snap.Meta[metaBuildID],
		Strings:      snap.Strings,
		Files:        make(map[string]*FileEntry, len(snap.Files)),
		Declarations: make(map[string]*DeclEntry, len(snap.Declarations)),
	}
	for _, f := range snap.Files {
		fe := &FileEntry{ModifiedTime: f.ModifiedTime}
		for _, d := range f.Declarations {
			fe.DeclarationHashes = append(fe.DeclarationHashes, Declared{Name: d.Name, Hash: d.Hash})
		}
		st.Files[f.Path] = fe
	}
	for _, d := range snap.Declarations {
		st.Declarations[d.Name] = &DeclEntry{Hash: d.Hash, Record: d.Record}
	}
	return st, nil
}

// Save replaces the database contents with st in one transaction.
func (b *SQLiteBackend) Save(st *State) error {
	snap := &store.Snapshot{
		Meta: map[string]string{
			metaVersion: strconv.Itoa(st.Version),
			metaBuildID: st.BuildID,
		},
		Strings: st.Strings,
	}
	for _, path := range sortedKeys(st.Files) {
		f := st.Files[path]
		sf := &store.SnapshotFile{Path: path, ModifiedTime: f.ModifiedTime}
		for _, d := range f.DeclarationHashes {
			sf.Declarations = append(sf.Declarations, &store.FileDeclaration{Name: d.Name, Hash: d.Hash})
		}
		snap.Files = append(snap.Files, sf)
	}
	for _, name := range sortedKeys(st.Declarations) {
		d := st.Declarations[name]
		snap.Declarations = append(snap.Declarations, &store.Declaration{Name: name, Hash: d.Hash, Record: d.Record})
	}
	return b.store.WriteSnapshot(snap)
}

// Reset deletes every row, keeping the schema and the open connection.
func (b *SQLiteBackend) Reset() error { return b.store.Reset() }

// Stats reports what the database holds, including stored record bytes.
func (b *SQLiteBackend) Stats() (store.Stats, error) { return b.store.Stats() }
