package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Meta:    map[string]string{"version": "1", "build_id": "b-1"},
		Strings: []string{"Keys", "K", "Mapped", ""},
		Files: []*SnapshotFile{
			{Path: "a.ts", ModifiedTime: time.Unix(10, 5), Declarations: []*FileDeclaration{
				{Name: "Mapped", Hash: "h2"},
				{Name: "Keys", Hash: "h1"},
			}},
			{Path: "b.ts", ModifiedTime: time.Unix(20, 0)},
		},
		Declarations: []*Declaration{
			{Name: "Keys", Hash: "h1", Record: []byte{6, 0, 2}},
			{Name: "Mapped", Hash: "h2", Record: []byte{8, 2, 1}},
		},
	}
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	expectedTables := []string{"metadata", "strings", "files", "file_declarations", "declarations"}

	for _, table := range expectedTables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	// Running migrate again should not error.
	require.NoError(t, s.Migrate())
}

func TestNewStore_BadPath(t *testing.T) {
	t.Parallel()
	_, err := NewStore(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	require.Error(t, err)
}

// =============================================================================
// Snapshots
// =============================================================================

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	want := sampleSnapshot()
	require.NoError(t, s.WriteSnapshot(want))

	got, err := s.ReadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, want.Meta, got.Meta)
	assert.Equal(t, want.Strings, got.Strings)
	assert.Equal(t, want.Declarations, got.Declarations)
	require.Len(t, got.Files, 2)
	for i, f := range got.Files {
		assert.Equal(t, want.Files[i].Path, f.Path)
		assert.True(t, want.Files[i].ModifiedTime.Equal(f.ModifiedTime))
		require.Len(t, f.Declarations, len(want.Files[i].Declarations))
		for j, d := range f.Declarations {
			assert.Equal(t, want.Files[i].Declarations[j].Name, d.Name)
			assert.Equal(t, want.Files[i].Declarations[j].Hash, d.Hash)
			assert.Equal(t, j, d.Seq)
		}
	}
}

func TestSnapshot_WriteReplaces(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.WriteSnapshot(sampleSnapshot()))
	require.NoError(t, s.WriteSnapshot(&Snapshot{Meta: map[string]string{"version": "1"}}))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	snap, err := s.ReadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"version": "1"}, snap.Meta)
	assert.Empty(t, snap.Files)
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.WriteSnapshot(sampleSnapshot()))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Strings: 4, Files: 2, Declarations: 2, RecordBytes: 6}, st)

	require.NoError(t, s.Reset())
	st, err = s.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}

func TestSnapshot_NanosecondModTimes(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	mtime := time.Unix(1700000000, 123456789)
	require.NoError(t, s.WriteSnapshot(&Snapshot{Files: []*SnapshotFile{{Path: "src/a.ts", ModifiedTime: mtime}}}))

	files, err := s.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Positive(t, files[0].ID)
	assert.True(t, mtime.Equal(files[0].ModifiedTime), "nanosecond mtime survives")
	assert.False(t, files[0].LastBuilt.IsZero())
}

func TestSnapshot_EmptyStringsKeepIndexes(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.WriteSnapshot(&Snapshot{Strings: []string{"z", "a", "m"}}))
	require.NoError(t, s.WriteSnapshot(&Snapshot{Strings: []string{"x", "", "y"}}))

	ss, err := s.Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "", "y"}, ss)
}

func TestSnapshot_DuplicatePathRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	err := s.WriteSnapshot(&Snapshot{Files: []*SnapshotFile{{Path: "a.ts"}, {Path: "a.ts"}}})
	require.Error(t, err)

	// The failed write rolled back.
	files, err := s.Files()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSnapshot_ReopenReadsBack(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	require.NoError(t, s.WriteSnapshot(sampleSnapshot()))
	require.NoError(t, s.Close())

	s, err = NewStore(dbPath)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.ReadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot().Declarations, got.Declarations)
}
