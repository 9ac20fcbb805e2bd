// Package container builds and reads the binary metadata container: a fixed
// header, a NUL-terminated string table, a fixed-width index and a single
// zstd-compressed heap of encoded records.
//
//	offset  size  field
//	0       4     magic "TMET" (0x544D4554)
//	4       2     protocol version
//	6       2     feature bitmap
//	8       4     string table size
//	12      4     index size
//	16      4     compressed heap size
//	20      4     uncompressed heap size
//	24      8     reserved
//
// All integers are little endian. Index entries are 24 bytes each.
package container

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

const (
	Magic           uint32 = 0x544D4554
	ProtocolVersion uint16 = 1

	HeaderSize = 32
	EntrySize  = 24
)

// Feature bits advertised in the header.
const (
	FeatureZstdHeap     uint16 = 1 << 0
	FeatureLiteralTypes uint16 = 1 << 1
	FeatureAliasEntries uint16 = 1 << 2
)

const entryFlagAlias uint32 = 1

// Header is the decoded fixed-size container header.
type Header struct {
	Magic       uint32
	Version     uint16
	Features    uint16
	StringsSize uint32
	IndexSize   uint32
	HeapSize    uint32
	RawHeapSize uint32
}

// Has reports whether the feature bit is set.
func (h Header) Has(feature uint16) bool { return h.Features&feature != 0 }

func (h Header) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	b = binary.LittleEndian.AppendUint16(b, h.Version)
	b = binary.LittleEndian.AppendUint16(b, h.Features)
	b = binary.LittleEndian.AppendUint32(b, h.StringsSize)
	b = binary.LittleEndian.AppendUint32(b, h.IndexSize)
	b = binary.LittleEndian.AppendUint32(b, h.HeapSize)
	b = binary.LittleEndian.AppendUint32(b, h.RawHeapSize)
	return append(b, make([]byte, 8)...)
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(b))
	}
	return Header{
		Magic:       binary.LittleEndian.Uint32(b[0:]),
		Version:     binary.LittleEndian.Uint16(b[4:]),
		Features:    binary.LittleEndian.Uint16(b[6:]),
		StringsSize: binary.LittleEndian.Uint32(b[8:]),
		IndexSize:   binary.LittleEndian.Uint32(b[12:]),
		HeapSize:    binary.LittleEndian.Uint32(b[16:]),
		RawHeapSize: binary.LittleEndian.Uint32(b[20:]),
	}, nil
}

// Entry is one index row: where a named record lives in the heap.
type Entry struct {
	Hash      uint32
	NameIndex uint32
	Name      string
	Offset    uint32
	Length    uint32
	// Alias entries share the heap range of the record they point at.
	Alias bool
}

func (e Entry) appendTo(b []byte) []byte {
	var flags uint32
	if e.Alias {
		flags |= entryFlagAlias
	}
	b = binary.LittleEndian.AppendUint32(b, e.Hash)
	b = binary.LittleEndian.AppendUint32(b, flags)
	b = binary.LittleEndian.AppendUint32(b, e.NameIndex)
	b = binary.LittleEndian.AppendUint32(b, e.Offset)
	b = binary.LittleEndian.AppendUint32(b, e.Length)
	return binary.LittleEndian.AppendUint32(b, 0)
}

func parseEntry(b []byte) Entry {
	return Entry{
		Hash:      binary.LittleEndian.Uint32(b[0:]),
		Alias:     binary.LittleEndian.Uint32(b[4:])&entryFlagAlias != 0,
		NameIndex: binary.LittleEndian.Uint32(b[8:]),
		Offset:    binary.LittleEndian.Uint32(b[12:]),
		Length:    binary.LittleEndian.Uint32(b[16:]),
	}
}

// Hash is the FNV-1a hash of a fully-qualified name, as stored in the index.
func Hash(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}
