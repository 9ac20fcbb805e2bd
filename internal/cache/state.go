// Package cache persists per-declaration content hashes and encoded records
// between builds so unchanged declarations are reused without re-encoding.
package cache

import (
	"time"

	"github.com/jward/typemeta/internal/container"
)

// Version is the cache format version. It tracks the container protocol:
// cached record bytes are only valid for the protocol that produced them.
const Version = int(container.ProtocolVersion)

// State is the persisted cache. Record bytes are codec output whose string
// indices refer to Strings.
type State struct {
	Version      int                   `json:"version"`
	BuildID      string                `json:"buildId"`
	Strings      []string              `json:"strings"`
	Files        map[string]*FileEntry `json:"files"`
	Declarations map[string]*DeclEntry `json:"declarations"`
}

// FileEntry is what one source file produced on its last build.
type FileEntry struct {
	ModifiedTime time.Time `json:"modifiedTime"`
	// DeclarationHashes lists the names the file produced, in production
	// order, with their content hashes.
	DeclarationHashes []Declared `json:"declarationHashes"`
}

// Declared is one name a file produced. An empty Hash marks a name that
// cannot be restored from the cache, such as an alias.
type Declared struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// DeclEntry is the cached hash and encoded bytes of one declaration.
type DeclEntry struct {
	Hash   string `json:"hash"`
	Record []byte `json:"record,omitempty"`
}

// NewState returns an empty state at the current version.
func NewState() *State {
	return &State{
		Version:      Version,
		Files:        make(map[string]*FileEntry),
		Declarations: make(map[string]*DeclEntry),
	}
}

func (s *State) normalize() {
	if s.Files == nil {
		s.Files = make(map[string]*FileEntry)
	}
	if s.Declarations == nil {
		s.Declarations = make(map[string]*DeclEntry)
	}
	for path, f := range s.Files {
		if f == nil {
			delete(s.Files, path)
		}
	}
}

// Backend loads and saves cache state. Load returns (nil, nil) when nothing
// has been saved yet, which is also what it returns after Reset.
type Backend interface {
	Load() (*State, error)
	Save(*State) error
	Reset() error
}
