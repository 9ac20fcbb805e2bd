package frontend

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/typemeta/internal/meta"
)

// memberBuild accumulates the signatures seen for one member name.
type memberBuild struct {
	member meta.Member
	sigs   []meta.Overload
	impl   *meta.Overload
}

// members extracts a class body or object type. Overload signatures are
// grouped under their member; a getter and setter pair becomes one
// accessor.
func (e *extractor) members(body *sitter.Node) []meta.Member {
	var builds []*memberBuild
	byName := make(map[string]*memberBuild)
	get := func(name string, kind meta.MemberKind) *memberBuild {
		key := kind.String() + ":" + name
		b, ok := byName[key]
		if !ok {
			b = &memberBuild{member: meta.Member{Name: name, Kind: kind}}
			byName[key] = b
			builds = append(builds, b)
		}
		return b
	}

	var pending []meta.Annotation
	for _, n := range namedChildren(body) {
		switch n.Type() {
		case "decorator":
			pending = append(pending, e.decorator(n))
			continue
		case "public_field_definition", "property_signature":
			name, flags := e.memberName(n)
			b := get(name, meta.MemberProperty)
			b.member.Flags |= flags
			b.member.Type = e.annotated(n.ChildByFieldName("type"), meta.Prim(meta.PrimAny))
			b.member.Annotations = append(b.member.Annotations, pending...)
			b.member.Annotations = append(b.member.Annotations, e.innerDecorators(n)...)
		case "method_definition", "method_signature", "abstract_method_signature":
			name, flags := e.memberName(n)
			sig := meta.Overload{
				Params: e.params(n.ChildByFieldName("parameters")),
				Return: e.annotated(n.ChildByFieldName("return_type"), meta.Prim(meta.PrimAny)),
			}
			kind := meta.MemberMethod
			switch {
			case name == "constructor":
				kind = meta.MemberConstructor
				sig.Return = meta.Prim(meta.PrimVoid)
			case hasToken(n, "get") || hasToken(n, "set"):
				kind = meta.MemberAccessor
			}
			b := get(name, kind)
			b.member.Flags |= flags
			b.member.Annotations = append(b.member.Annotations, pending...)

			switch {
			case kind == meta.MemberAccessor:
				if hasToken(n, "get") {
					b.member.Type = sig.Return
				} else if len(sig.Params) > 0 && b.member.Type == (meta.TypeRef{}) {
					b.member.Type = sig.Params[0].Type
				}
			case n.Type() == "method_definition":
				b.impl = &sig
			default:
				b.sigs = append(b.sigs, sig)
			}

			if kind == meta.MemberConstructor {
				for _, pp := range e.paramProperties(n.ChildByFieldName("parameters")) {
					pb := get(pp.Name, meta.MemberProperty)
					pb.member.Type = pp.Type
					pb.member.Flags |= pp.Flags
				}
			}
		}
		pending = nil
	}

	out := make([]meta.Member, 0, len(builds))
	for _, b := range builds {
		out = append(out, b.finish())
	}
	return out
}

// finish settles the signature fields. A single signature is stored
// directly as Params and Type; several signatures are kept as overloads,
// with the implementation signature (if any) in Impl.
func (b *memberBuild) finish() meta.Member {
	m := b.member
	if m.Kind == meta.MemberProperty || m.Kind == meta.MemberAccessor {
		if m.Type == (meta.TypeRef{}) {
			m.Type = meta.Prim(meta.PrimAny)
		}
		return m
	}
	switch {
	case len(b.sigs) == 0 && b.impl != nil:
		m.Params = nonNil(b.impl.Params)
		m.Type = b.impl.Return
	case len(b.sigs) == 1 && b.impl == nil:
		m.Params = nonNil(b.sigs[0].Params)
		m.Type = b.sigs[0].Return
	default:
		m.Overloads = b.sigs
		m.Impl = b.impl
		m.Type = b.sigs[0].Return
		if b.impl != nil {
			m.Type = b.impl.Return
		}
	}
	return m
}

// nonNil keeps an empty parameter list present.
func nonNil(ps []meta.Param) []meta.Param {
	if ps == nil {
		return []meta.Param{}
	}
	return ps
}

// memberName returns a member's name and the modifier flags written on it.
func (e *extractor) memberName(n *sitter.Node) (string, meta.Flags) {
	nameNode := n.ChildByFieldName("name")
	name := e.text(nameNode)
	var flags meta.Flags
	if nameNode != nil && nameNode.Type() == "private_property_identifier" {
		flags |= meta.FlagPrivate
	}
	if hasToken(n, "static") {
		flags |= meta.FlagStatic
	}
	if hasToken(n, "readonly") {
		flags |= meta.FlagReadonly
	}
	if hasToken(n, "?") {
		flags |= meta.FlagOptional
	}
	flags |= e.accessibility(n)
	return unquote(name), flags
}

func (e *extractor) accessibility(n *sitter.Node) meta.Flags {
	for _, c := range namedChildren(n) {
		if c.Type() != "accessibility_modifier" {
			continue
		}
		switch e.text(c) {
		case "private":
			return meta.FlagPrivate
		case "protected":
			return meta.FlagProtected
		}
	}
	return 0
}

// innerDecorators returns decorators attached inside a field definition.
func (e *extractor) innerDecorators(n *sitter.Node) []meta.Annotation {
	var out []meta.Annotation
	for _, c := range namedChildren(n) {
		if c.Type() == "decorator" {
			out = append(out, e.decorator(c))
		}
	}
	return out
}

func (e *extractor) params(n *sitter.Node) []meta.Param {
	if n == nil {
		return nil
	}
	var out []meta.Param
	for _, c := range namedChildren(n) {
		if c.Type() != "required_parameter" && c.Type() != "optional_parameter" {
			continue
		}
		pattern := c.ChildByFieldName("pattern")
		p := meta.Param{
			Name:        strings.TrimPrefix(e.text(pattern), "..."),
			Type:        e.annotated(c.ChildByFieldName("type"), meta.Prim(meta.PrimAny)),
			Optional:    c.Type() == "optional_parameter",
			Rest:        pattern != nil && pattern.Type() == "rest_pattern",
			Annotations: e.innerDecorators(c),
		}
		out = append(out, p)
	}
	return out
}

type paramProperty struct {
	Name  string
	Type  meta.TypeRef
	Flags meta.Flags
}

// paramProperties returns constructor parameters declared with an
// accessibility or readonly modifier; they are also class properties.
func (e *extractor) paramProperties(n *sitter.Node) []paramProperty {
	var out []paramProperty
	for _, c := range namedChildren(n) {
		if c.Type() != "required_parameter" && c.Type() != "optional_parameter" {
			continue
		}
		flags := e.accessibility(c)
		readonly := hasToken(c, "readonly")
		hasAccess := false
		for _, m := range namedChildren(c) {
			if m.Type() == "accessibility_modifier" {
				hasAccess = true
			}
		}
		if !hasAccess && !readonly {
			continue
		}
		if readonly {
			flags |= meta.FlagReadonly
		}
		if c.Type() == "optional_parameter" {
			flags |= meta.FlagOptional
		}
		out = append(out, paramProperty{
			Name:  e.text(c.ChildByFieldName("pattern")),
			Type:  e.annotated(c.ChildByFieldName("type"), meta.Prim(meta.PrimAny)),
			Flags: flags,
		})
	}
	return out
}
