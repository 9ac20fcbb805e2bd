package typemeta

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/typemeta/internal/codec"
	"github.com/jward/typemeta/internal/container"
	"github.com/jward/typemeta/internal/meta"
)

// DefaultRecordCacheSize is the number of decoded records a Reader keeps.
const DefaultRecordCacheSize = 1024

// Reader answers queries against a loaded container. It is safe for
// concurrent use.
type Reader struct {
	path    string
	store   *container.Store
	records *lru.Cache[string, *meta.Record]
	version error
}

type readerConfig struct {
	cacheSize int
	strict    bool
}

// ReaderOption configures Open.
type ReaderOption func(*readerConfig)

// WithRecordCache sets how many decoded records the Reader keeps.
func WithRecordCache(size int) ReaderOption {
	return func(c *readerConfig) { c.cacheSize = size }
}

// WithStrict makes a protocol version mismatch an Open error.
func WithStrict() ReaderOption {
	return func(c *readerConfig) { c.strict = true }
}

// Open loads the container at path. A container written by another protocol
// version still opens unless WithStrict is given; VersionMismatch reports it.
func Open(path string, opts ...ReaderOption) (*Reader, error) {
	cfg := readerConfig{cacheSize: DefaultRecordCacheSize}
	for _, o := range opts {
		o(&cfg)
	}
	var loadOpts []container.LoadOption
	if cfg.strict {
		loadOpts = append(loadOpts, container.Strict())
	}

	s, err := container.Load(path, loadOpts...)
	var vm *container.VersionMismatchError
	if err != nil && (s == nil || !errors.As(err, &vm)) {
		return nil, fmt.Errorf("typemeta: open %s: %w", path, err)
	}

	records, lerr := lru.New[string, *meta.Record](max(cfg.cacheSize, 1))
	if lerr != nil {
		return nil, fmt.Errorf("typemeta: record cache: %w", lerr)
	}
	return &Reader{path: path, store: s, records: records, version: err}, nil
}

func (r *Reader) Path() string { return r.path }

// VersionMismatch returns the *container.VersionMismatchError found at Open,
// or nil.
func (r *Reader) VersionMismatch() error { return r.version }

func (r *Reader) Header() container.Header { return r.store.Header() }

// Names lists every indexed name, aliases included, in index order.
func (r *Reader) Names() []string { return r.store.Names() }

// Entries returns the index.
func (r *Reader) Entries() []container.Entry { return r.store.Entries() }

func (r *Reader) LookupByName(name string) (container.Entry, bool) {
	return r.store.LookupByName(name)
}

// LookupByHash returns entries whose name hashes to h; compare names to
// resolve collisions.
func (r *Reader) LookupByHash(h uint32) []container.Entry {
	return r.store.LookupByHash(h)
}

// Decode decodes raw record bytes against the container's string table.
func (r *Reader) Decode(raw []byte) (*meta.Record, error) {
	return codec.Decode(raw, r.store.String)
}

// Raw returns the encoded bytes of name.
func (r *Reader) Raw(name string) ([]byte, error) {
	e, ok := r.store.LookupByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", container.ErrNotFound, name)
	}
	return r.store.ReadRecord(e)
}

// Record returns the decoded record for name. Alias names return the
// record they alias. Missing names return an error wrapping
// container.ErrNotFound. Records are shared between callers and must not be
// modified.
func (r *Reader) Record(name string) (*meta.Record, error) {
	if rec, ok := r.records.Get(name); ok {
		return rec, nil
	}
	e, ok := r.store.LookupByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", container.ErrNotFound, name)
	}
	rec, err := r.store.Decode(e)
	if err != nil {
		return nil, err
	}
	r.records.Add(name, rec)
	return rec, nil
}

// Dependencies returns every name reachable from name's references, in
// breadth-first order. References to names the container lacks are
// included as leaves; cycles terminate.
func (r *Reader) Dependencies(name string) ([]string, error) {
	deps, _, err := r.walk(name)
	return deps, err
}

// Missing returns the dangling references reachable from name.
func (r *Reader) Missing(name string) ([]string, error) {
	_, missing, err := r.walk(name)
	return missing, err
}

func (r *Reader) walk(name string) (deps, missing []string, err error) {
	root, err := r.Record(name)
	if err != nil {
		return nil, nil, err
	}
	seen := map[string]bool{name: true, root.Name: true}
	queue := []*meta.Record{root}
	for len(queue) > 0 {
		rec := queue[0]
		queue = queue[1:]
		for _, ref := range rec.Refs() {
			if seen[ref] {
				continue
			}
			seen[ref] = true
			deps = append(deps, ref)
			next, err := r.Record(ref)
			switch {
			case errors.Is(err, container.ErrNotFound):
				missing = append(missing, ref)
			case err != nil:
				return nil, nil, err
			default:
				queue = append(queue, next)
			}
		}
	}
	return deps, missing, nil
}
