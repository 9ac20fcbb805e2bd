package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/jward/typemeta/internal/codec"
	"github.com/jward/typemeta/internal/meta"
)

// Store is a loaded container. It is immutable after Load and safe for
// concurrent reads.
type Store struct {
	header  Header
	strings []string
	entries []Entry
	heap    []byte

	byName map[string]int
	byHash map[uint32][]int
}

type loadConfig struct {
	strict bool
}

// LoadOption configures Load and Parse.
type LoadOption func(*loadConfig)

// Strict makes a protocol version mismatch fatal instead of returning a
// usable Store alongside the error.
func Strict() LoadOption {
	return func(c *loadConfig) { c.strict = true }
}

// Load reads and parses the container at path.
func Load(path string, opts ...LoadOption) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load container: %w", err)
	}
	return Parse(data, opts...)
}

// Parse parses an in-memory container. A bad magic number, truncation or a
// heap that does not decompress are fatal. A protocol version mismatch is
// reported as *VersionMismatchError; unless Strict is set the Store is still
// returned so callers can decide whether to trust it.
func Parse(data []byte, opts ...LoadOption) (*Store, error) {
	var cfg loadConfig
	for _, o := range opts {
		o(&cfg)
	}

	if len(data) >= 4 {
		if m := binary.LittleEndian.Uint32(data); m != Magic {
			return nil, fmt.Errorf("%w: magic 0x%08X", ErrBadMagic, m)
		}
	}
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	var versionErr error
	if h.Version != ProtocolVersion {
		versionErr = &VersionMismatchError{Got: h.Version, Want: ProtocolVersion}
		if cfg.strict {
			return nil, versionErr
		}
	}

	s, err := parseBody(h, data)
	if err != nil {
		if versionErr != nil {
			return nil, errors.Join(versionErr, err)
		}
		return nil, err
	}
	return s, versionErr
}

func parseBody(h Header, data []byte) (*Store, error) {
	want := uint64(HeaderSize) + uint64(h.StringsSize) + uint64(h.IndexSize) + uint64(h.HeapSize)
	switch {
	case uint64(len(data)) < want:
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, want, len(data))
	case uint64(len(data)) > want:
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, uint64(len(data))-want)
	}
	if h.IndexSize%EntrySize != 0 {
		return nil, fmt.Errorf("%w: index size %d is not a multiple of %d", ErrMalformed, h.IndexSize, EntrySize)
	}

	s := &Store{header: h}
	off := HeaderSize

	table := data[off : off+int(h.StringsSize)]
	off += int(h.StringsSize)
	if len(table) > 0 {
		if table[len(table)-1] != 0 {
			return nil, fmt.Errorf("%w: string table not NUL terminated", ErrMalformed)
		}
		parts := bytes.Split(table[:len(table)-1], []byte{0})
		s.strings = make([]string, len(parts))
		for i, p := range parts {
			s.strings[i] = string(p)
		}
	}

	n := int(h.IndexSize) / EntrySize
	s.entries = make([]Entry, n)
	s.byName = make(map[string]int, n)
	s.byHash = make(map[uint32][]int, n)
	for i := 0; i < n; i++ {
		e := parseEntry(data[off+i*EntrySize:])
		if int(e.NameIndex) >= len(s.strings) {
			return nil, fmt.Errorf("%w: entry %d names string %d of %d", ErrMalformed, i, e.NameIndex, len(s.strings))
		}
		e.Name = s.strings[e.NameIndex]
		s.entries[i] = e
		if _, dup := s.byName[e.Name]; !dup {
			s.byName[e.Name] = i
		}
		s.byHash[e.Hash] = append(s.byHash[e.Hash], i)
	}
	off += int(h.IndexSize)

	heap := data[off:]
	switch {
	case len(heap) == 0:
		if h.RawHeapSize != 0 {
			return nil, fmt.Errorf("%w: empty heap, expected %d bytes", ErrCorruptHeap, h.RawHeapSize)
		}
	case h.Has(FeatureZstdHeap):
		raw, err := decompress(heap, h.RawHeapSize)
		if err != nil {
			return nil, err
		}
		s.heap = raw
	default:
		if uint32(len(heap)) != h.RawHeapSize {
			return nil, fmt.Errorf("%w: raw heap is %d bytes, header says %d", ErrCorruptHeap, len(heap), h.RawHeapSize)
		}
		s.heap = heap
	}
	return s, nil
}

func decompress(heap []byte, rawSize uint32) ([]byte, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if rawSize > 0 {
		// The decoder caps its window at this limit too, so keep the minimum.
		opts = append(opts, zstd.WithDecoderMaxMemory(max(uint64(rawSize), zstd.MinWindowSize)))
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	// The size hint comes from an untrusted header; cap the up-front allocation.
	hint := min(rawSize, 64<<20)
	raw, err := dec.DecodeAll(heap, make([]byte, 0, hint))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptHeap, err)
	}
	if uint32(len(raw)) != rawSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, header says %d", ErrCorruptHeap, len(raw), rawSize)
	}
	return raw, nil
}

// Header returns the parsed container header.
func (s *Store) Header() Header { return s.header }

// Version returns the format version the container was written with.
func (s *Store) Version() uint16 { return s.header.Version }

// Names lists every indexed name, aliases included, in index order.
func (s *Store) Names() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Name
	}
	return out
}

// Entries returns a copy of the index.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// LookupByName finds the entry for a fully-qualified name. If a name is
// indexed more than once the first entry wins.
func (s *Store) LookupByName(name string) (Entry, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// LookupByHash returns every entry whose name hashes to h. Callers compare
// names to resolve collisions.
func (s *Store) LookupByHash(h uint32) []Entry {
	idx := s.byHash[h]
	if len(idx) == 0 {
		return nil
	}
	out := make([]Entry, len(idx))
	for i, j := range idx {
		out[i] = s.entries[j]
	}
	return out
}

// ReadRecord returns the encoded bytes of e. The slice aliases the store's
// heap and must not be modified.
func (s *Store) ReadRecord(e Entry) ([]byte, error) {
	end := uint64(e.Offset) + uint64(e.Length)
	if end > uint64(len(s.heap)) || e.Length == 0 {
		return nil, fmt.Errorf("%w: %s [%d:%d] of %d", ErrOutOfRange, e.Name, e.Offset, end, len(s.heap))
	}
	return s.heap[e.Offset:end], nil
}

// String returns the string table entry at i.
func (s *Store) String(i uint32) (string, bool) {
	if int(i) >= len(s.strings) {
		return "", false
	}
	return s.strings[i], true
}

// Strings returns a copy of the string table.
func (s *Store) Strings() []string {
	out := make([]string, len(s.strings))
	copy(out, s.strings)
	return out
}

// Lookup adapts the string table for codec.Decode.
func (s *Store) Lookup() codec.StringLookup { return s.String }

// Decode reads and decodes the record at e. Failures are confined to that
// record.
func (s *Store) Decode(e Entry) (*meta.Record, error) {
	raw, err := s.ReadRecord(e)
	if err != nil {
		return nil, err
	}
	rec, err := codec.Decode(raw, s.String)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", e.Name, err)
	}
	return rec, nil
}

// DecodeName looks up and decodes a record by name.
func (s *Store) DecodeName(name string) (*meta.Record, error) {
	e, ok := s.LookupByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.Decode(e)
}
