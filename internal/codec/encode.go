package codec

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/jward/typemeta/internal/meta"
)

const (
	enumNumber byte = 0xFE
	enumString byte = 0xFD

	paramOptional byte = 1
	paramRest     byte = 2
)

// Encode returns the encoded bytes of rec, interning its strings into in.
func Encode(rec *meta.Record, in *meta.Interner) ([]byte, error) {
	return AppendRecord(nil, rec, in)
}

// AppendRecord appends the encoding of rec to dst.
func AppendRecord(dst []byte, rec *meta.Record, in *meta.Interner) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return dst, err
	}
	e := &encoder{buf: dst, in: in}
	e.record(rec)
	if e.err != nil {
		return dst, fmt.Errorf("encode %s: %w", rec.Name, e.err)
	}
	return e.buf, nil
}

type encoder struct {
	buf []byte
	in  *meta.Interner
	err error
}

func (e *encoder) byte(b byte)     { e.buf = append(e.buf, b) }
func (e *encoder) uvarint(v int)   { e.buf = binary.AppendUvarint(e.buf, uint64(v)) }
func (e *encoder) presence(b bool) { e.byte(boolByte(b)) }

func (e *encoder) str(s string) {
	if strings.IndexByte(s, 0) >= 0 {
		if e.err == nil {
			e.err = fmt.Errorf("%w: %q", ErrStringNUL, s)
		}
		return
	}
	e.buf = binary.AppendUvarint(e.buf, uint64(e.in.Intern(s)))
}

func (e *encoder) record(rec *meta.Record) {
	e.byte(byte(rec.Kind))
	e.str(rec.Name)

	switch p := rec.Payload.(type) {
	case *meta.PrimitivePayload:
		e.byte(byte(p.Tag))
	case *meta.ClassPayload:
		e.uvarint(len(p.Members))
		for _, m := range p.Members {
			e.member(m)
		}
		e.generics(p.GenericParams)
		e.annotations(p.Annotations)
		e.uvarint(len(p.Bases))
		for _, b := range p.Bases {
			e.str(b)
		}
	case *meta.FunctionPayload:
		e.params(p.Params)
		e.typeRef(p.Return)
		e.generics(p.GenericParams)
		e.annotations(p.Annotations)
	case *meta.EnumPayload:
		e.uvarint(len(p.Members))
		for _, m := range p.Members {
			e.str(m.Name)
			e.enumValue(m.Value)
		}
	case *meta.CompositePayload:
		e.typeRefs(p.Members)
	case *meta.MappedPayload:
		e.str(p.KeyName)
		e.optionalRef(p.KeyConstraint)
		e.typeRef(p.Value)
	case *meta.ConditionalPayload:
		e.typeRef(p.Check)
		e.typeRef(p.Extends)
		e.typeRef(p.True)
		e.typeRef(p.False)
	case *meta.GenericAliasPayload:
		e.str(p.Base)
		e.typeRefs(p.Args)
	}
}

func (e *encoder) typeRef(t meta.TypeRef) {
	e.byte(byte(t.Kind))
	if t.Kind == meta.RefPrimitive {
		e.byte(byte(t.Prim))
		return
	}
	e.str(t.Name)
}

func (e *encoder) typeRefs(ts []meta.TypeRef) {
	e.uvarint(len(ts))
	for _, t := range ts {
		e.typeRef(t)
	}
}

func (e *encoder) optionalRef(t *meta.TypeRef) {
	e.presence(t != nil)
	if t != nil {
		e.typeRef(*t)
	}
}

func (e *encoder) annotations(as []meta.Annotation) {
	e.uvarint(len(as))
	for _, a := range as {
		e.str(a.Name)
		e.uvarint(len(a.Args))
		for _, arg := range a.Args {
			e.str(arg)
		}
	}
}

func (e *encoder) params(ps []meta.Param) {
	e.uvarint(len(ps))
	for _, p := range ps {
		e.str(p.Name)
		e.typeRef(p.Type)
		var flags byte
		if p.Optional {
			flags |= paramOptional
		}
		if p.Rest {
			flags |= paramRest
		}
		e.byte(flags)
		e.annotations(p.Annotations)
	}
}

func (e *encoder) generics(gps []meta.GenericParam) {
	e.uvarint(len(gps))
	for _, gp := range gps {
		e.str(gp.Name)
		e.optionalRef(gp.Constraint)
		e.optionalRef(gp.Default)
	}
}

func (e *encoder) overload(o meta.Overload) {
	e.params(o.Params)
	e.typeRef(o.Return)
	e.annotations(o.Annotations)
}

func (e *encoder) member(m meta.Member) {
	e.str(m.Name)
	e.byte(byte(m.Kind))
	e.typeRef(m.Type)
	e.byte(byte(m.Flags))
	e.annotations(m.Annotations)

	e.presence(m.Params != nil)
	if m.Params != nil {
		e.params(m.Params)
	}
	e.presence(m.Overloads != nil)
	if m.Overloads != nil {
		e.uvarint(len(m.Overloads))
		for _, o := range m.Overloads {
			e.overload(o)
		}
	}
	e.presence(m.Impl != nil)
	if m.Impl != nil {
		e.overload(*m.Impl)
	}
}

func (e *encoder) enumValue(v meta.EnumValue) {
	if v.Numeric {
		e.byte(enumNumber)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v.Number))
		return
	}
	e.byte(enumString)
	e.uvarint(len(v.Text))
	e.buf = append(e.buf, v.Text...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
