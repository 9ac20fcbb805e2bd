package meta

// Interner deduplicates strings into an append-only, insertion-ordered
// table. The position of a string in Strings() is its index, and that order
// is the on-disk order of the container's string table.
//
// An Interner is scoped to one build and is not safe for concurrent use.
type Interner struct {
	index  map[string]uint32
	values []string
}

// NewInterner creates an Interner pre-populated with seed in order. Seeding
// with the previous build's table keeps previously issued indices valid, so
// cached encoded records can be reused verbatim.
func NewInterner(seed ...string) *Interner {
	in := &Interner{
		index:  make(map[string]uint32, len(seed)),
		values: make([]string, 0, len(seed)),
	}
	for _, s := range seed {
		idx := uint32(len(in.values))
		in.values = append(in.values, s)
		if _, ok := in.index[s]; !ok {
			in.index[s] = idx
		}
	}
	return in
}

// Intern returns the index of s, appending it if it has not been seen.
func (in *Interner) Intern(s string) uint32 {
	if idx, ok := in.index[s]; ok {
		return idx
	}
	idx := uint32(len(in.values))
	in.values = append(in.values, s)
	in.index[s] = idx
	return idx
}

// Lookup returns the index of s without interning it.
func (in *Interner) Lookup(s string) (uint32, bool) {
	idx, ok := in.index[s]
	return idx, ok
}

// Resolve returns the string at idx.
func (in *Interner) Resolve(idx uint32) (string, bool) {
	if int(idx) >= len(in.values) {
		return "", false
	}
	return in.values[idx], true
}

// Len returns the number of entries in the table.
func (in *Interner) Len() int { return len(in.values) }

// Strings returns a copy of the table in index order.
func (in *Interner) Strings() []string {
	out := make([]string, len(in.values))
	copy(out, in.values)
	return out
}
