package container

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/jward/typemeta/internal/codec"
	"github.com/jward/typemeta/internal/meta"
)

// Options tunes the container builder.
type Options struct {
	// Level is the zstd compression level. Zero means zstd.SpeedDefault.
	Level zstd.EncoderLevel
	// Raw stores the heap uncompressed and clears FeatureZstdHeap.
	Raw bool
}

// Stats summarizes a build.
type Stats struct {
	Records         int
	Encoded         int
	Reused          int
	Aliases         int
	Strings         int
	HeapBytes       int
	CompressedBytes int
}

// Image is a fully built container held in memory.
type Image struct {
	Header  Header
	Strings []string
	Index   []Entry
	// Heap is the heap as written: zstd compressed unless the Raw option was set.
	Heap  []byte
	Stats Stats

	raw    []byte
	byName map[string]int
}

// Build encodes every registered record into a container image. Entries
// carrying cached bytes are copied verbatim; their string indices must be
// valid in in, which holds when in was seeded with the cache's table.
//
// Call reg.Canonicalize before Build so references name alias targets.
func Build(reg *meta.Registry, in *meta.Interner, opts Options) (*Image, error) {
	img := &Image{byName: make(map[string]int)}
	var heap []byte
	literals := false

	for _, e := range reg.Entries() {
		rec := e.Record
		nameIdx := in.Intern(rec.Name)
		offset := len(heap)

		if e.Encoded != nil {
			heap = append(heap, e.Encoded...)
			img.Stats.Reused++
		} else {
			var err error
			heap, err = codec.AppendRecord(heap, rec, in)
			if err != nil {
				return nil, err
			}
			img.Stats.Encoded++
		}
		if !literals {
			rec.VisitTypeRefs(func(t meta.TypeRef) {
				if t.Kind == meta.RefLiteral {
					literals = true
				}
			})
		}

		img.byName[rec.Name] = len(img.Index)
		img.Index = append(img.Index, Entry{
			Hash:      Hash(rec.Name),
			NameIndex: nameIdx,
			Name:      rec.Name,
			Offset:    uint32(offset),
			Length:    uint32(len(heap) - offset),
		})
		if uint64(len(heap)) > math.MaxUint32 {
			return nil, fmt.Errorf("heap: %w", ErrTooLarge)
		}
	}
	img.Stats.Records = len(img.Index)

	for _, a := range reg.Aliases() {
		i, ok := img.byName[a.Target]
		if !ok {
			continue
		}
		target := img.Index[i]
		img.byName[a.Name] = len(img.Index)
		img.Index = append(img.Index, Entry{
			Hash:      Hash(a.Name),
			NameIndex: in.Intern(a.Name),
			Name:      a.Name,
			Offset:    target.Offset,
			Length:    target.Length,
			Alias:     true,
		})
		img.Stats.Aliases++
	}

	img.Strings = in.Strings()
	for _, s := range img.Strings {
		if strings.IndexByte(s, 0) >= 0 {
			return nil, fmt.Errorf("string table: %w: %q", codec.ErrStringNUL, s)
		}
	}

	img.raw = heap
	img.Heap = heap
	var features uint16
	if literals {
		features |= FeatureLiteralTypes
	}
	if img.Stats.Aliases > 0 {
		features |= FeatureAliasEntries
	}
	if !opts.Raw {
		features |= FeatureZstdHeap
		if len(heap) > 0 {
			compressed, err := compress(heap, opts.Level)
			if err != nil {
				return nil, err
			}
			img.Heap = compressed
		}
	}

	stringsSize := 0
	for _, s := range img.Strings {
		stringsSize += len(s) + 1
	}
	indexSize := len(img.Index) * EntrySize
	for _, n := range []int{stringsSize, indexSize, len(img.Heap), HeaderSize + stringsSize + indexSize + len(img.Heap)} {
		if uint64(n) > math.MaxUint32 {
			return nil, ErrTooLarge
		}
	}

	img.Header = Header{
		Magic:       Magic,
		Version:     ProtocolVersion,
		Features:    features,
		StringsSize: uint32(stringsSize),
		IndexSize:   uint32(indexSize),
		HeapSize:    uint32(len(img.Heap)),
		RawHeapSize: uint32(len(heap)),
	}
	img.Stats.Strings = len(img.Strings)
	img.Stats.HeapBytes = len(heap)
	img.Stats.CompressedBytes = len(img.Heap)
	return img, nil
}

func compress(raw []byte, level zstd.EncoderLevel) ([]byte, error) {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Record returns the uncompressed encoded bytes of the named record, or
// false for unknown names and alias entries.
func (img *Image) Record(name string) ([]byte, bool) {
	i, ok := img.byName[name]
	if !ok || img.Index[i].Alias {
		return nil, false
	}
	e := img.Index[i]
	return img.raw[e.Offset : e.Offset+e.Length], true
}

// Bytes returns the serialized container.
func (img *Image) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + int(img.Header.StringsSize) + int(img.Header.IndexSize) + len(img.Heap))
	_, _ = img.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the serialized container to w.
func (img *Image) WriteTo(w io.Writer) (int64, error) {
	b := img.Header.appendTo(make([]byte, 0, HeaderSize+int(img.Header.StringsSize)+int(img.Header.IndexSize)))
	for _, s := range img.Strings {
		b = append(b, s...)
		b = append(b, 0)
	}
	for _, e := range img.Index {
		b = e.appendTo(b)
	}
	n, err := w.Write(b)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(img.Heap)
	return int64(n + m), err
}
