package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/jward/typemeta/internal/meta"
)

// StringLookup resolves a string-table index.
type StringLookup func(idx uint32) (string, bool)

// Decode reads one record from data. The whole buffer must be consumed.
// Non-optional lists that were empty decode as nil; optional lists that were
// present decode as non-nil slices.
func Decode(data []byte, lookup StringLookup) (*meta.Record, error) {
	d := &decoder{data: data, lookup: lookup}
	rec := d.record()
	if d.err != nil {
		return nil, d.err
	}
	if d.off != len(d.data) {
		return nil, &DecodeError{Offset: d.off, Op: "record", Err: ErrTrailingBytes}
	}
	return rec, nil
}

// PeekKind returns the kind tag of an encoded record without decoding it.
func PeekKind(data []byte) (meta.Kind, error) {
	d := &decoder{data: data}
	k := d.kind()
	return k, d.err
}

// PeekName returns the name of an encoded record without decoding the payload.
func PeekName(data []byte, lookup StringLookup) (string, error) {
	d := &decoder{data: data, lookup: lookup}
	d.kind()
	name := d.str("name")
	return name, d.err
}

// decoder keeps the first error and turns every later read into a no-op.
type decoder struct {
	data   []byte
	off    int
	lookup StringLookup
	err    error
}

func (d *decoder) fail(op string, err error) {
	if d.err == nil {
		d.err = &DecodeError{Offset: d.off, Op: op, Err: err}
	}
}

func (d *decoder) byte(op string) byte {
	if d.err != nil {
		return 0
	}
	if d.off >= len(d.data) {
		d.fail(op, ErrTruncated)
		return 0
	}
	b := d.data[d.off]
	d.off++
	return b
}

func (d *decoder) uvarint(op string) uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data[d.off:])
	if n <= 0 {
		if n == 0 {
			d.fail(op, ErrTruncated)
		} else {
			d.fail(op, fmt.Errorf("%w: varint overflow", ErrBadTag))
		}
		return 0
	}
	d.off += n
	return v
}

// count reads a list length. Every element takes at least one byte, so a
// count larger than what remains is corrupt.
func (d *decoder) count(op string) int {
	n := d.uvarint(op)
	if d.err != nil {
		return 0
	}
	if n > uint64(len(d.data)-d.off) {
		d.fail(op, ErrTruncated)
		return 0
	}
	return int(n)
}

func (d *decoder) present(op string) bool {
	switch b := d.byte(op); b {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail(op, fmt.Errorf("%w: presence byte %d", ErrBadTag, b))
		return false
	}
}

func (d *decoder) str(op string) string {
	idx := d.uvarint(op)
	if d.err != nil {
		return ""
	}
	if idx > uint64(^uint32(0)) {
		d.fail(op, ErrUnknownString)
		return ""
	}
	s, ok := d.lookup(uint32(idx))
	if !ok {
		d.fail(op, fmt.Errorf("%w: %d", ErrUnknownString, idx))
		return ""
	}
	return s
}

func (d *decoder) kind() meta.Kind {
	k := meta.Kind(d.byte("kind"))
	if d.err == nil && !k.Valid() {
		d.off--
		d.fail("kind", fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k)))
	}
	return k
}

func (d *decoder) record() *meta.Record {
	rec := &meta.Record{Kind: d.kind()}
	rec.Name = d.str("name")
	if d.err != nil {
		return nil
	}

	switch rec.Kind {
	case meta.KindPrimitive:
		rec.Payload = &meta.PrimitivePayload{Tag: d.primitive("primitive")}
	case meta.KindClass, meta.KindObject:
		p := &meta.ClassPayload{}
		if n := d.count("members"); n > 0 {
			p.Members = make([]meta.Member, n)
			for i := range p.Members {
				p.Members[i] = d.member()
			}
		}
		p.GenericParams = d.generics()
		p.Annotations = d.annotations()
		if n := d.count("bases"); n > 0 {
			p.Bases = make([]string, n)
			for i := range p.Bases {
				p.Bases[i] = d.str("base")
			}
		}
		rec.Payload = p
	case meta.KindFunction:
		p := &meta.FunctionPayload{}
		p.Params = d.params()
		p.Return = d.typeRef("return")
		p.GenericParams = d.generics()
		p.Annotations = d.annotations()
		rec.Payload = p
	case meta.KindEnum:
		p := &meta.EnumPayload{}
		if n := d.count("enum"); n > 0 {
			p.Members = make([]meta.EnumMember, n)
			for i := range p.Members {
				p.Members[i].Name = d.str("enum member")
				p.Members[i].Value = d.enumValue()
			}
		}
		rec.Payload = p
	case meta.KindUnion, meta.KindIntersection:
		rec.Payload = &meta.CompositePayload{Members: d.typeRefs("composite")}
	case meta.KindMapped:
		p := &meta.MappedPayload{}
		p.KeyName = d.str("mapped key")
		p.KeyConstraint = d.optionalRef("mapped constraint")
		p.Value = d.typeRef("mapped value")
		rec.Payload = p
	case meta.KindConditional:
		p := &meta.ConditionalPayload{}
		p.Check = d.typeRef("check")
		p.Extends = d.typeRef("extends")
		p.True = d.typeRef("true")
		p.False = d.typeRef("false")
		rec.Payload = p
	case meta.KindGenericAlias:
		p := &meta.GenericAliasPayload{}
		p.Base = d.str("generic base")
		p.Args = d.typeRefs("generic args")
		rec.Payload = p
	}
	if d.err != nil {
		return nil
	}
	return rec
}

func (d *decoder) primitive(op string) meta.PrimitiveTag {
	tag := meta.PrimitiveTag(d.byte(op))
	if d.err == nil && !tag.Valid() {
		d.off--
		d.fail(op, fmt.Errorf("%w: primitive %d", ErrBadTag, uint8(tag)))
	}
	return tag
}

func (d *decoder) typeRef(op string) meta.TypeRef {
	switch k := meta.RefKind(d.byte(op)); k {
	case meta.RefPrimitive:
		return meta.Prim(d.primitive(op))
	case meta.RefNamed:
		return meta.Ref(d.str(op))
	case meta.RefLiteral:
		return meta.Lit(d.str(op))
	default:
		if d.err == nil {
			d.off--
			d.fail(op, fmt.Errorf("%w: typeref discriminator %d", ErrBadTag, uint8(k)))
		}
		return meta.TypeRef{}
	}
}

func (d *decoder) typeRefs(op string) []meta.TypeRef {
	n := d.count(op)
	if n == 0 {
		return nil
	}
	out := make([]meta.TypeRef, n)
	for i := range out {
		out[i] = d.typeRef(op)
	}
	return out
}

func (d *decoder) optionalRef(op string) *meta.TypeRef {
	if !d.present(op) {
		return nil
	}
	t := d.typeRef(op)
	return &t
}

func (d *decoder) annotations() []meta.Annotation {
	n := d.count("annotations")
	if n == 0 {
		return nil
	}
	out := make([]meta.Annotation, n)
	for i := range out {
		out[i].Name = d.str("annotation")
		if argc := d.count("annotation args"); argc > 0 {
			out[i].Args = make([]string, argc)
			for j := range out[i].Args {
				out[i].Args[j] = d.str("annotation arg")
			}
		}
	}
	return out
}

func (d *decoder) param() meta.Param {
	p := meta.Param{Name: d.str("param")}
	p.Type = d.typeRef("param type")
	flags := d.byte("param flags")
	if flags&^(paramOptional|paramRest) != 0 && d.err == nil {
		d.off--
		d.fail("param flags", fmt.Errorf("%w: param flags %d", ErrBadTag, flags))
	}
	p.Optional = flags&paramOptional != 0
	p.Rest = flags&paramRest != 0
	p.Annotations = d.annotations()
	return p
}

func (d *decoder) params() []meta.Param {
	n := d.count("params")
	if n == 0 {
		return nil
	}
	out := make([]meta.Param, n)
	for i := range out {
		out[i] = d.param()
	}
	return out
}

func (d *decoder) generics() []meta.GenericParam {
	n := d.count("generic params")
	if n == 0 {
		return nil
	}
	out := make([]meta.GenericParam, n)
	for i := range out {
		out[i].Name = d.str("generic param")
		out[i].Constraint = d.optionalRef("generic constraint")
		out[i].Default = d.optionalRef("generic default")
	}
	return out
}

func (d *decoder) overload() meta.Overload {
	var o meta.Overload
	o.Params = d.params()
	o.Return = d.typeRef("overload return")
	o.Annotations = d.annotations()
	return o
}

func (d *decoder) member() meta.Member {
	m := meta.Member{Name: d.str("member")}
	m.Kind = meta.MemberKind(d.byte("member kind"))
	if d.err == nil && !m.Kind.Valid() {
		d.off--
		d.fail("member kind", fmt.Errorf("%w: member kind %d", ErrBadTag, uint8(m.Kind)))
	}
	m.Type = d.typeRef("member type")
	m.Flags = meta.Flags(d.byte("member flags"))
	if d.err == nil && !m.Flags.Valid() {
		d.off--
		d.fail("member flags", fmt.Errorf("%w: member flags %d", ErrBadTag, uint8(m.Flags)))
	}
	m.Annotations = d.annotations()

	if d.present("member params") {
		n := d.count("member params")
		m.Params = make([]meta.Param, n)
		for i := range m.Params {
			m.Params[i] = d.param()
		}
	}
	if d.present("overloads") {
		n := d.count("overloads")
		m.Overloads = make([]meta.Overload, n)
		for i := range m.Overloads {
			m.Overloads[i] = d.overload()
		}
	}
	if d.present("impl") {
		impl := d.overload()
		m.Impl = &impl
	}
	return m
}

func (d *decoder) enumValue() meta.EnumValue {
	switch b := d.byte("enum value"); b {
	case enumNumber:
		if d.err != nil {
			return meta.EnumValue{}
		}
		if len(d.data)-d.off < 4 {
			d.fail("enum value", ErrTruncated)
			return meta.EnumValue{}
		}
		n := int32(binary.LittleEndian.Uint32(d.data[d.off:]))
		d.off += 4
		return meta.NumberValue(n)
	case enumString:
		n := d.count("enum value")
		if d.err != nil {
			return meta.EnumValue{}
		}
		s := string(d.data[d.off : d.off+n])
		d.off += n
		return meta.TextValue(s)
	default:
		if d.err == nil {
			d.off--
			d.fail("enum value", fmt.Errorf("%w: enum sentinel 0x%02x", ErrBadTag, b))
		}
		return meta.EnumValue{}
	}
}
