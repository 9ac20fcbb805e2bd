package store

import "time"

// Cache persistence types

type File struct {
	ID           int64
	Path         string
	ModifiedTime time.Time
	LastBuilt    time.Time
}

// FileDeclaration links a source file to a declaration it produced, with
// the content hash the declaration had when the file was last built. Seq is
// the declaration's position in the file's output.
type FileDeclaration struct {
	FileID int64
	Seq    int
	Name   string
	Hash   string
}

type Declaration struct {
	Name   string
	Hash   string
	Record []byte
}

// Snapshot is the full contents of a cache database.
type Snapshot struct {
	Meta         map[string]string
	Strings      []string
	Files        []*SnapshotFile
	Declarations []*Declaration
}

type SnapshotFile struct {
	Path         string
	ModifiedTime time.Time
	// Declarations in production order. FileID and Seq are ignored on
	// write.
	Declarations []*FileDeclaration
}

// Stats counts rows per table.
type Stats struct {
	Strings      int
	Files        int
	Declarations int
	RecordBytes  int64
}
