package frontend

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/typemeta/internal/meta"
)

// typeRef converts a type node to a TypeRef, emitting shapes for inline
// composites and generic instances.
func (e *extractor) typeRef(n *sitter.Node) meta.TypeRef {
	n = unwrapParens(n)
	if n == nil {
		return meta.Prim(meta.PrimAny)
	}
	switch n.Type() {
	case "predefined_type", "literal_type", "undefined", "null":
		return meta.ParseTypeRef(e.text(n))
	case "type_identifier", "nested_type_identifier", "identifier":
		return meta.Ref(e.text(n))
	case "generic_type":
		base, args := e.genericParts(n)
		return meta.Ref(e.instance(base, args))
	case "array_type":
		return meta.Ref(e.instance("Array", []meta.TypeRef{e.typeRef(n.NamedChild(0))}))
	case "readonly_type":
		return e.typeRef(n.NamedChild(0))
	case "union_type", "intersection_type":
		kind := meta.KindUnion
		if n.Type() == "intersection_type" {
			kind = meta.KindIntersection
		}
		s := meta.Shape{Kind: kind, Members: e.flatten(n, n.Type())}
		e.batch.Shapes = append(e.batch.Shapes, s)
		return meta.Ref(s.Name())
	case "object_type", "function_type", "constructor_type", "tuple_type", "this_type":
		return meta.Prim(meta.PrimObject)
	default:
		return meta.Prim(meta.PrimUnknown)
	}
}

// flatten collects the members of a left-nested union or intersection.
func (e *extractor) flatten(n *sitter.Node, typ string) []meta.TypeRef {
	var out []meta.TypeRef
	for _, c := range namedChildren(n) {
		if u := unwrapParens(c); u.Type() == typ {
			out = append(out, e.flatten(u, typ)...)
			continue
		}
		out = append(out, e.typeRef(c))
	}
	return out
}

func (e *extractor) genericParts(n *sitter.Node) (string, []meta.TypeRef) {
	base := e.text(n.ChildByFieldName("name"))
	var args []meta.TypeRef
	if ta := n.ChildByFieldName("type_arguments"); ta != nil {
		args = e.typeArgs(ta)
	} else {
		for _, c := range namedChildren(n) {
			if c.Type() == "type_arguments" {
				args = e.typeArgs(c)
			}
		}
	}
	return base, args
}

func (e *extractor) typeArgs(n *sitter.Node) []meta.TypeRef {
	var out []meta.TypeRef
	for _, c := range namedChildren(n) {
		out = append(out, e.typeRef(c))
	}
	return out
}

// instance emits a generic instance shape and returns its name.
func (e *extractor) instance(base string, args []meta.TypeRef) string {
	s := meta.Shape{Kind: meta.KindGenericAlias, Base: base, Members: args}
	e.batch.Shapes = append(e.batch.Shapes, s)
	return s.Name()
}

// annotated returns the type inside a type_annotation node, or def when the
// annotation is absent.
func (e *extractor) annotated(n *sitter.Node, def meta.TypeRef) meta.TypeRef {
	if n == nil {
		return def
	}
	switch n.Type() {
	case "type_annotation", "opting_type_annotation", "omitting_type_annotation", "adding_type_annotation":
	case "type_predicate_annotation", "asserts_annotation":
		return meta.Prim(meta.PrimBoolean)
	default:
		return e.typeRef(n)
	}
	if n.NamedChildCount() == 0 {
		return def
	}
	return e.typeRef(n.NamedChild(0))
}

// TypeOf converts a type or type annotation node of a tree parsed from src.
// Shapes for inline composites and generic instances are appended to batch,
// so records that reference the result register alongside them.
func TypeOf(n *sitter.Node, src []byte, batch *meta.Batch) meta.TypeRef {
	e := &extractor{src: src, batch: batch}
	return e.annotated(n, meta.Prim(meta.PrimAny))
}
