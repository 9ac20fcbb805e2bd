package meta

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Kind identifies the payload shape of a declaration record. The numeric
// values are written to the wire and must never be reordered.
type Kind uint8

const (
	KindPrimitive Kind = iota + 1
	KindClass
	KindObject
	KindFunction
	KindEnum
	KindUnion
	KindIntersection
	KindMapped
	KindConditional
	KindGenericAlias
)

var kindNames = map[Kind]string{
	KindPrimitive:    "primitive",
	KindClass:        "class",
	KindObject:       "object",
	KindFunction:     "function",
	KindEnum:         "enum",
	KindUnion:        "union",
	KindIntersection: "intersection",
	KindMapped:       "mapped",
	KindConditional:  "conditional",
	KindGenericAlias: "generic_alias",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// PrimitiveTag is a scalar type tag.
type PrimitiveTag uint8

const (
	PrimNumber PrimitiveTag = iota + 1
	PrimString
	PrimBoolean
	PrimNull
	PrimUndefined
	PrimSymbol
	PrimBigInt
	PrimAny
	PrimUnknown
	PrimNever
	PrimVoid
	PrimObject
)

var primitiveNames = map[PrimitiveTag]string{
	PrimNumber:    "number",
	PrimString:    "string",
	PrimBoolean:   "boolean",
	PrimNull:      "null",
	PrimUndefined: "undefined",
	PrimSymbol:    "symbol",
	PrimBigInt:    "bigint",
	PrimAny:       "any",
	PrimUnknown:   "unknown",
	PrimNever:     "never",
	PrimVoid:      "void",
	PrimObject:    "object",
}

func (p PrimitiveTag) String() string {
	if s, ok := primitiveNames[p]; ok {
		return s
	}
	return fmt.Sprintf("primitive(%d)", uint8(p))
}

func (p PrimitiveTag) Valid() bool {
	_, ok := primitiveNames[p]
	return ok
}

func (p PrimitiveTag) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParsePrimitive maps a primitive type keyword to its tag.
func ParsePrimitive(s string) (PrimitiveTag, bool) {
	for p, name := range primitiveNames {
		if name == s {
			return p, true
		}
	}
	return 0, false
}

// RefKind is the TypeRef discriminator. Values are the wire discriminator bytes.
type RefKind uint8

const (
	RefPrimitive RefKind = 0
	RefNamed     RefKind = 1
	RefLiteral   RefKind = 2
)

// TypeRef is the recursive leaf of the declaration graph: an inline
// primitive, a named reference to another declaration, or a literal type.
type TypeRef struct {
	Kind RefKind
	Prim PrimitiveTag
	// Name holds the referenced fully-qualified name, or the literal text.
	Name string
}

// Prim returns a primitive TypeRef.
func Prim(tag PrimitiveTag) TypeRef { return TypeRef{Kind: RefPrimitive, Prim: tag} }

// Ref returns a named reference TypeRef.
func Ref(name string) TypeRef { return TypeRef{Kind: RefNamed, Name: name} }

// Lit returns a literal TypeRef. String literals are stored quoted.
func Lit(text string) TypeRef { return TypeRef{Kind: RefLiteral, Name: text} }

// StringLit returns a literal TypeRef for the unquoted string s.
func StringLit(s string) TypeRef { return Lit(strconv.Quote(s)) }

// IsRef reports whether t names another declaration.
func (t TypeRef) IsRef() bool { return t.Kind == RefNamed }

func (t TypeRef) String() string {
	switch t.Kind {
	case RefPrimitive:
		return t.Prim.String()
	default:
		return t.Name
	}
}

// key is an unambiguous rendering used for shape canonicalization, where
// Ref("string") and Prim(string) must not collide.
func (t TypeRef) key() string {
	switch t.Kind {
	case RefPrimitive:
		return "p:" + t.Prim.String()
	case RefNamed:
		return "r:" + t.Name
	default:
		return "l:" + t.Name
	}
}

func (t TypeRef) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ParseTypeRef interprets a single type token: a primitive keyword, a quoted
// or numeric literal, or otherwise a named reference.
func ParseTypeRef(s string) TypeRef {
	s = strings.TrimSpace(s)
	if p, ok := ParsePrimitive(s); ok {
		return Prim(p)
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		if u, err := strconv.Unquote(s); err == nil && s[0] == '"' {
			return StringLit(u)
		}
		return StringLit(s[1 : len(s)-1])
	}
	if s == "true" || s == "false" {
		return Lit(s)
	}
	if s != "" && (s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) {
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return Lit(s)
		}
	}
	return Ref(s)
}

// MemberKind distinguishes class/object members.
type MemberKind uint8

const (
	MemberProperty MemberKind = iota + 1
	MemberMethod
	MemberAccessor
	MemberConstructor
)

var memberKindNames = map[MemberKind]string{
	MemberProperty:    "property",
	MemberMethod:      "method",
	MemberAccessor:    "accessor",
	MemberConstructor: "constructor",
}

func (m MemberKind) String() string {
	if s, ok := memberKindNames[m]; ok {
		return s
	}
	return fmt.Sprintf("member(%d)", uint8(m))
}

func (m MemberKind) Valid() bool {
	_, ok := memberKindNames[m]
	return ok
}

func (m MemberKind) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseMemberKind maps a member kind name to its MemberKind.
func ParseMemberKind(s string) (MemberKind, bool) {
	for k, name := range memberKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Flags is the member modifier bitfield. Bits never overlap.
type Flags uint8

const (
	FlagStatic Flags = 1 << iota
	FlagReadonly
	FlagOptional
	FlagPrivate
	FlagProtected
)

const flagMask = FlagStatic | FlagReadonly | FlagOptional | FlagPrivate | FlagProtected

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Valid reports whether only known bits are set.
func (f Flags) Valid() bool { return f&^flagMask == 0 }

// Visibility resolves the visibility by bit priority: private wins over
// protected, anything else is public.
func (f Flags) Visibility() string {
	switch {
	case f.Has(FlagPrivate):
		return "private"
	case f.Has(FlagProtected):
		return "protected"
	default:
		return "public"
	}
}

// Names lists the set modifier names in bit order.
func (f Flags) Names() []string {
	var out []string
	for _, b := range []struct {
		bit  Flags
		name string
	}{
		{FlagStatic, "static"},
		{FlagReadonly, "readonly"},
		{FlagOptional, "optional"},
		{FlagPrivate, "private"},
		{FlagProtected, "protected"},
	} {
		if f.Has(b.bit) {
			out = append(out, b.name)
		}
	}
	return out
}

// ParseFlag maps a modifier name to its bit.
func ParseFlag(s string) (Flags, bool) {
	switch s {
	case "static":
		return FlagStatic, true
	case "readonly":
		return FlagReadonly, true
	case "optional":
		return FlagOptional, true
	case "private":
		return FlagPrivate, true
	case "protected":
		return FlagProtected, true
	}
	return 0, false
}

// Annotation is a named, argument-carrying marker (a decorator).
type Annotation struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// Param is one entry of a parameter list.
type Param struct {
	Name        string       `json:"name"`
	Type        TypeRef      `json:"type"`
	Optional    bool         `json:"optional,omitempty"`
	Rest        bool         `json:"rest,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// GenericParam is a declared type parameter.
type GenericParam struct {
	Name       string   `json:"name"`
	Constraint *TypeRef `json:"constraint,omitempty"`
	Default    *TypeRef `json:"default,omitempty"`
}

// Overload is one call signature of a method or function.
type Overload struct {
	Params      []Param      `json:"params"`
	Return      TypeRef      `json:"return"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Member is a property, method, accessor or constructor of a class or
// object shape. Params, Overloads and Impl are optional and are written
// with an explicit presence byte; a nil slice means absent.
type Member struct {
	Name        string       `json:"name"`
	Kind        MemberKind   `json:"kind"`
	Type        TypeRef      `json:"type"`
	Flags       Flags        `json:"flags"`
	Annotations []Annotation `json:"annotations,omitempty"`
	Params      []Param      `json:"params"`
	Overloads   []Overload   `json:"overloads"`
	Impl        *Overload    `json:"impl,omitempty"`
}

// EnumValue holds either a numeric or a string enum value.
type EnumValue struct {
	Numeric bool   `json:"numeric"`
	Number  int32  `json:"number,omitempty"`
	Text    string `json:"text,omitempty"`
}

// NumberValue returns a numeric enum value.
func NumberValue(n int32) EnumValue { return EnumValue{Numeric: true, Number: n} }

// TextValue returns a string enum value.
func TextValue(s string) EnumValue { return EnumValue{Text: s} }

func (v EnumValue) String() string {
	if v.Numeric {
		return strconv.FormatInt(int64(v.Number), 10)
	}
	return strconv.Quote(v.Text)
}

// EnumMember is one (name, value) pair of an enum.
type EnumMember struct {
	Name  string    `json:"name"`
	Value EnumValue `json:"value"`
}

// Payload is the kind-specific body of a Record. The set of implementations
// is closed to this package.
type Payload interface {
	isPayload()
}

type PrimitivePayload struct {
	Tag PrimitiveTag `json:"tag"`
}

// ClassPayload serves both KindClass and KindObject.
type ClassPayload struct {
	Members       []Member       `json:"members"`
	GenericParams []GenericParam `json:"genericParams,omitempty"`
	Annotations   []Annotation   `json:"annotations,omitempty"`
	Bases         []string       `json:"bases,omitempty"`
}

type FunctionPayload struct {
	Params        []Param        `json:"params"`
	Return        TypeRef        `json:"return"`
	GenericParams []GenericParam `json:"genericParams,omitempty"`
	Annotations   []Annotation   `json:"annotations,omitempty"`
}

type EnumPayload struct {
	Members []EnumMember `json:"members"`
}

// CompositePayload serves both KindUnion and KindIntersection.
type CompositePayload struct {
	Members []TypeRef `json:"members"`
}

type MappedPayload struct {
	KeyName       string   `json:"keyName"`
	KeyConstraint *TypeRef `json:"keyConstraint,omitempty"`
	Value         TypeRef  `json:"value"`
}

type ConditionalPayload struct {
	Check   TypeRef `json:"check"`
	Extends TypeRef `json:"extends"`
	True    TypeRef `json:"true"`
	False   TypeRef `json:"false"`
}

type GenericAliasPayload struct {
	Base string    `json:"base"`
	Args []TypeRef `json:"args"`
}

func (*PrimitivePayload) isPayload()    {}
func (*ClassPayload) isPayload()        {}
func (*FunctionPayload) isPayload()     {}
func (*EnumPayload) isPayload()         {}
func (*CompositePayload) isPayload()    {}
func (*MappedPayload) isPayload()       {}
func (*ConditionalPayload) isPayload()  {}
func (*GenericAliasPayload) isPayload() {}

// Record is one named declaration in the metadata graph. Records are
// immutable once registered.
type Record struct {
	Name    string  `json:"name"`
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"payload"`
}

// Validate checks that the payload type agrees with the kind.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRecord)
	}
	ok := false
	switch r.Kind {
	case KindPrimitive:
		_, ok = r.Payload.(*PrimitivePayload)
	case KindClass, KindObject:
		_, ok = r.Payload.(*ClassPayload)
	case KindFunction:
		_, ok = r.Payload.(*FunctionPayload)
	case KindEnum:
		_, ok = r.Payload.(*EnumPayload)
	case KindUnion, KindIntersection:
		_, ok = r.Payload.(*CompositePayload)
	case KindMapped:
		_, ok = r.Payload.(*MappedPayload)
	case KindConditional:
		_, ok = r.Payload.(*ConditionalPayload)
	case KindGenericAlias:
		_, ok = r.Payload.(*GenericAliasPayload)
	default:
		return fmt.Errorf("%w: %s has unknown kind %d", ErrInvalidRecord, r.Name, uint8(r.Kind))
	}
	if !ok || reflect.ValueOf(r.Payload).IsNil() {
		return fmt.Errorf("%w: %s is %s but payload is %T", ErrInvalidRecord, r.Name, r.Kind, r.Payload)
	}
	if err := r.checkTags(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRecord, r.Name, err)
	}
	return nil
}

// checkTags rejects tag bytes the wire format has no value for: the zero
// TypeRef, member kind 0 and undefined flag bits.
func (r *Record) checkTags() error {
	var bad error
	r.VisitTypeRefs(func(t TypeRef) {
		if bad == nil {
			bad = t.check()
		}
	})
	if bad != nil {
		return bad
	}
	switch p := r.Payload.(type) {
	case *PrimitivePayload:
		if !p.Tag.Valid() {
			return fmt.Errorf("primitive tag %d", uint8(p.Tag))
		}
	case *ClassPayload:
		for _, m := range p.Members {
			if !m.Kind.Valid() {
				return fmt.Errorf("member %q: kind %d", m.Name, uint8(m.Kind))
			}
			if !m.Flags.Valid() {
				return fmt.Errorf("member %q: flags %#x", m.Name, uint8(m.Flags))
			}
		}
	}
	return nil
}

func (t TypeRef) check() error {
	switch t.Kind {
	case RefPrimitive:
		if !t.Prim.Valid() {
			return fmt.Errorf("primitive tag %d", uint8(t.Prim))
		}
	case RefNamed, RefLiteral:
	default:
		return fmt.Errorf("typeref discriminator %d", uint8(t.Kind))
	}
	return nil
}
