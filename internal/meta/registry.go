package meta

import (
	"fmt"
	"sort"
	"strings"
)

// Entry is a registered record plus the build state the container builder
// needs: the content hash and, on a cache hit, encoded bytes to reuse verbatim.
type Entry struct {
	Record  *Record
	Hash    string
	Encoded []byte
	// Rewritten is set when Canonicalize redirected one of the record's
	// references to an alias target declared elsewhere.
	Rewritten bool
}

// Alias is an extra name that resolves to another registered record.
type Alias struct {
	Name   string
	Target string
}

// Registry is the name-keyed store of every record produced in a build.
//
// Duplicate names are last-registration-wins; the replaced record keeps the
// original insertion position. Union, intersection and generic instance
// shapes are canonicalized so a structurally identical shape is stored once.
//
// A Registry has a single writer and is not safe for concurrent mutation.
type Registry struct {
	entries map[string]*Entry
	pos     map[string]int
	order   []string

	// shape key -> name of the record holding that shape
	shapes map[string]string
	// names whose record was derived from the shape rather than declared
	derived map[string]bool

	aliases    map[string]string
	aliasOrder []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		pos:     make(map[string]int),
		shapes:  make(map[string]string),
		derived: make(map[string]bool),
		aliases: make(map[string]string),
	}
}

// Register stores rec under its name. Union, intersection and generic alias
// records participate in shape canonicalization: a record whose name is
// its derived shape name is treated as an anonymous occurrence.
func (r *Registry) Register(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if key, derivedName, ok := shapeOf(rec); ok {
		r.registerShape(key, rec, rec.Name == derivedName)
		return nil
	}
	r.put(rec)
	return nil
}

// RegisterEncoded registers rec together with its content hash and encoded
// bytes from a previous build. The bytes are dropped if canonicalization
// later rewrites or renames the record.
func (r *Registry) RegisterEncoded(rec *Record, hash string, encoded []byte) error {
	if err := r.Register(rec); err != nil {
		return err
	}
	if e, ok := r.entries[rec.Name]; ok && e.Record == rec {
		e.Hash = hash
		e.Encoded = encoded
	}
	return nil
}

// Composite canonicalizes a union or intersection and returns the name use
// sites should reference. alias is the declared name, or "" for an inline
// occurrence. Members are stored sorted and deduplicated.
func (r *Registry) Composite(alias string, kind Kind, members []TypeRef) (string, error) {
	if kind != KindUnion && kind != KindIntersection {
		return "", fmt.Errorf("%w: composite kind %s", ErrInvalidRecord, kind)
	}
	sorted := sortRefs(members)
	name := alias
	if name == "" {
		name = CompositeName(kind, sorted)
	}
	rec := &Record{Name: name, Kind: kind, Payload: &CompositePayload{Members: sorted}}
	return r.registerShape(compositeKey(kind, sorted), rec, alias == ""), nil
}

// GenericInstance canonicalizes an instantiation of base with args and
// returns the instance name, e.g. "Array<string>". Argument order is kept.
func (r *Registry) GenericInstance(base string, args []TypeRef) string {
	name := InstanceName(base, args)
	rec := &Record{Name: name, Kind: KindGenericAlias, Payload: &GenericAliasPayload{Base: base, Args: args}}
	return r.registerShape(instanceKey(base, args), rec, true)
}

// CompositeName derives the canonical name of an anonymous union or
// intersection from its members, which must already be sorted.
func CompositeName(kind Kind, members []TypeRef) string {
	sep := " | "
	if kind == KindIntersection {
		sep = " & "
	}
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = m.String()
	}
	return strings.Join(parts, sep)
}

// InstanceName renders a generic instance name.
func InstanceName(base string, args []TypeRef) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return base + "<" + strings.Join(parts, ", ") + ">"
}

func sortRefs(members []TypeRef) []TypeRef {
	out := make([]TypeRef, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		k := m.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

func compositeKey(kind Kind, sorted []TypeRef) string {
	keys := make([]string, len(sorted))
	for i, m := range sorted {
		keys[i] = m.key()
	}
	return kind.String() + "(" + strings.Join(keys, ",") + ")"
}

func instanceKey(base string, args []TypeRef) string {
	keys := make([]string, len(args))
	for i, a := range args {
		keys[i] = a.key()
	}
	return "instance(" + base + "<" + strings.Join(keys, ",") + ">)"
}

// shapeOf returns the canonical shape key and derived name for records that
// take part in canonicalization.
func shapeOf(rec *Record) (key, derivedName string, ok bool) {
	switch p := rec.Payload.(type) {
	case *CompositePayload:
		sorted := sortRefs(p.Members)
		return compositeKey(rec.Kind, sorted), CompositeName(rec.Kind, sorted), true
	case *GenericAliasPayload:
		return instanceKey(p.Base, p.Args), InstanceName(p.Base, p.Args), true
	}
	return "", "", false
}

// Anonymous reports whether rec is a shape named by its own structure, such
// as "Array<string>" or "a | b".
func (r *Record) Anonymous() bool {
	_, derived, ok := shapeOf(r)
	return ok && r.Name == derived
}

func (r *Registry) registerShape(key string, rec *Record, anonymous bool) string {
	canon, ok := r.shapes[key]
	if !ok {
		r.put(rec)
		r.shapes[key] = rec.Name
		r.derived[rec.Name] = anonymous
		return rec.Name
	}
	switch {
	case anonymous:
		return canon
	case canon == rec.Name:
		r.put(rec)
		return canon
	case r.derived[canon]:
		r.rename(canon, rec.Name, key)
		return rec.Name
	default:
		r.addAlias(rec.Name, canon)
		return canon
	}
}

// rename moves a derived-name record to its declared name in place. The old
// name stays resolvable as an alias.
func (r *Registry) rename(from, to, key string) {
	if _, taken := r.entries[to]; taken {
		r.remove(to)
	}
	e := r.entries[from]
	cp := *e.Record
	cp.Name = to
	r.entries[to] = &Entry{Record: &cp}
	idx := r.pos[from]
	r.order[idx] = to
	r.pos[to] = idx
	delete(r.entries, from)
	delete(r.pos, from)
	delete(r.derived, from)
	delete(r.aliases, to)
	r.derived[to] = false
	r.shapes[key] = to
	r.retarget(from, to)
	r.addAlias(from, to)
}

func (r *Registry) put(rec *Record) {
	if e, ok := r.entries[rec.Name]; ok {
		r.detachShape(e.Record, rec)
		e.Record = rec
		e.Hash = ""
		e.Encoded = nil
		return
	}
	delete(r.aliases, rec.Name)
	r.entries[rec.Name] = &Entry{Record: rec}
	r.pos[rec.Name] = len(r.order)
	r.order = append(r.order, rec.Name)
}

// detachShape handles a named shape being replaced by a different record.
// Aliases that pointed at the old shape keep it: the first one becomes the
// record's new home and the rest follow it.
func (r *Registry) detachShape(old, next *Record) {
	oldKey, oldDerived, ok := shapeOf(old)
	if !ok || r.shapes[oldKey] != old.Name {
		return
	}
	if nextKey, _, ok := shapeOf(next); ok && nextKey == oldKey {
		return
	}
	delete(r.shapes, oldKey)
	delete(r.derived, old.Name)

	var targeting []string
	for _, a := range r.aliasNames() {
		if r.aliases[a] == old.Name {
			targeting = append(targeting, a)
		}
	}
	if len(targeting) == 0 {
		return
	}
	home := targeting[0]
	delete(r.aliases, home)
	cp := *old
	cp.Name = home
	r.entries[home] = &Entry{Record: &cp}
	r.pos[home] = len(r.order)
	r.order = append(r.order, home)
	r.shapes[oldKey] = home
	r.derived[home] = home == oldDerived
	for _, a := range targeting[1:] {
		r.aliases[a] = home
	}
}

// remove drops a record so its name can become an alias.
func (r *Registry) remove(name string) {
	idx, ok := r.pos[name]
	if !ok {
		return
	}
	r.order = append(r.order[:idx], r.order[idx+1:]...)
	for i := idx; i < len(r.order); i++ {
		r.pos[r.order[i]] = i
	}
	if key, _, ok := shapeOf(r.entries[name].Record); ok && r.shapes[key] == name {
		delete(r.shapes, key)
	}
	delete(r.pos, name)
	delete(r.entries, name)
	delete(r.derived, name)
}

func (r *Registry) addAlias(name, target string) {
	if name == target {
		return
	}
	if _, isRecord := r.entries[name]; isRecord {
		r.remove(name)
	}
	if _, seen := r.aliases[name]; !seen {
		r.aliasOrder = append(r.aliasOrder, name)
	}
	r.aliases[name] = target
}

func (r *Registry) retarget(from, to string) {
	for a, t := range r.aliases {
		if t == from {
			r.aliases[a] = to
		}
	}
}

// aliasNames lists live aliases in first-registration order.
func (r *Registry) aliasNames() []string {
	out := make([]string, 0, len(r.aliases))
	seen := make(map[string]bool, len(r.aliases))
	for _, a := range r.aliasOrder {
		if _, ok := r.aliases[a]; ok && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// Resolve follows aliases and returns the name of the record that holds
// name's shape. Unknown names resolve to themselves.
func (r *Registry) Resolve(name string) string {
	for i := 0; i < len(r.aliases)+1; i++ {
		target, ok := r.aliases[name]
		if !ok {
			return name
		}
		name = target
	}
	return name
}

// Canonicalize rewrites every reference to an alias so it names the alias
// target. It runs once all records are registered, before hashing, and
// returns the number of records it rewrote.
func (r *Registry) Canonicalize() int {
	if len(r.aliases) == 0 {
		return 0
	}
	rewritten := 0
	for _, name := range r.order {
		e := r.entries[name]
		changed := false
		rec := e.Record.MapTypeRefs(func(t TypeRef) TypeRef {
			if !t.IsRef() {
				return t
			}
			if target := r.Resolve(t.Name); target != t.Name {
				changed = true
				return Ref(target)
			}
			return t
		})
		if c, ok := rec.Payload.(*ClassPayload); ok {
			for i, b := range c.Bases {
				if target := r.Resolve(b); target != b {
					c.Bases[i] = target
					changed = true
				}
			}
		}
		if !changed {
			continue
		}
		e.Record = rec
		e.Hash = ""
		e.Encoded = nil
		e.Rewritten = true
		rewritten++
	}
	return rewritten
}

// Attach records the content hash of name and, on a cache hit, the encoded
// bytes to reuse.
func (r *Registry) Attach(name, hash string, encoded []byte) {
	if e, ok := r.entries[name]; ok {
		e.Hash = hash
		e.Encoded = encoded
	}
}

// Get returns the record registered under name, following aliases.
func (r *Registry) Get(name string) (*Record, bool) {
	e, ok := r.entries[r.Resolve(name)]
	if !ok {
		return nil, false
	}
	return e.Record, true
}

// Entry returns the build entry for name without following aliases.
func (r *Registry) Entry(name string) (*Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Entries returns all entries in insertion order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, len(r.order))
	for i, name := range r.order {
		out[i] = r.entries[name]
	}
	return out
}

// Records returns all records in insertion order.
func (r *Registry) Records() []*Record {
	out := make([]*Record, len(r.order))
	for i, name := range r.order {
		out[i] = r.entries[name].Record
	}
	return out
}

// Names returns registered record names in insertion order. Aliases are not
// included.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Aliases returns every alias with its resolved target, in the order the
// aliases were first seen.
func (r *Registry) Aliases() []Alias {
	names := r.aliasNames()
	out := make([]Alias, len(names))
	for i, a := range names {
		out[i] = Alias{Name: a, Target: r.Resolve(a)}
	}
	return out
}

// Len returns the number of registered records.
func (r *Registry) Len() int { return len(r.order) }
