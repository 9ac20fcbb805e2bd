// Package frontend extracts declaration records from TypeScript sources
// using tree-sitter.
//
// Top-level classes, interfaces, functions, enums and type aliases become
// records named by their declared name, qualified by any enclosing
// namespace ("NS.Name"). Inline unions, intersections, arrays and generic
// instantiations become anonymous shapes the registry canonicalizes.
// Type operators the data model cannot express (keyof, typeof, indexed
// access, template literals, inline conditional or mapped types) are
// recorded as the unknown primitive; inline object, function and tuple
// types as the object primitive.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/typemeta/internal/meta"
)

// ErrUnsupported is returned for paths without a recognized extension.
var ErrUnsupported = errors.New("unsupported source file")

// ExtractFile reads and extracts path. The batch carries the file's
// modification time.
func ExtractFile(ctx context.Context, path string) (*meta.Batch, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	b, err := Extract(ctx, path, src)
	if err != nil {
		return nil, err
	}
	b.ModTime = info.ModTime()
	return b, nil
}

// Extract parses src as the file at path and returns its declarations.
// Syntax errors do not fail extraction: tree-sitter recovers and the
// well-formed declarations are still returned.
func Extract(ctx context.Context, path string, src []byte) (*meta.Batch, error) {
	lang, ok := Grammar(path)
	if !ok {
		return nil, fmt.Errorf("extract %s: %w", path, ErrUnsupported)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("extract %s: parse: %w", path, err)
	}
	defer tree.Close()

	e := &extractor{
		src:     src,
		batch:   &meta.Batch{Source: path},
		funcPos: make(map[string]int),
		funcImp: make(map[string]bool),
	}
	e.statements(tree.RootNode(), "")
	return e.batch, nil
}

type extractor struct {
	src   []byte
	batch *meta.Batch

	// function name -> index in batch.Records, and whether that record
	// came from an implementation rather than an overload signature
	funcPos map[string]int
	funcImp map[string]bool
}

func (e *extractor) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(e.src)
}

func (e *extractor) add(rec *meta.Record) {
	e.batch.Records = append(e.batch.Records, rec)
}

// statements walks a program or block body.
func (e *extractor) statements(n *sitter.Node, prefix string) {
	for _, c := range namedChildren(n) {
		e.statement(c, prefix, nil)
	}
}

func (e *extractor) statement(n *sitter.Node, prefix string, decorators []meta.Annotation) {
	switch n.Type() {
	case "export_statement":
		var decs []meta.Annotation
		for _, c := range namedChildren(n) {
			if c.Type() == "decorator" {
				decs = append(decs, e.decorator(c))
			}
		}
		if decl := n.ChildByFieldName("declaration"); decl != nil {
			e.statement(decl, prefix, append(decorators, decs...))
			return
		}
		// export default class ...
		for _, c := range namedChildren(n) {
			switch c.Type() {
			case "class_declaration", "abstract_class_declaration", "class", "function_declaration":
				e.statement(c, prefix, append(decorators, decs...))
			}
		}
	case "ambient_declaration":
		for _, c := range namedChildren(n) {
			if c.Type() == "statement_block" {
				e.statements(c, prefix)
				continue
			}
			e.statement(c, prefix, decorators)
		}
	case "expression_statement":
		for _, c := range namedChildren(n) {
			if c.Type() == "internal_module" {
				e.statement(c, prefix, nil)
			}
		}
	case "internal_module", "module":
		name := strings.Trim(e.text(n.ChildByFieldName("name")), `"'`)
		if body := n.ChildByFieldName("body"); body != nil && name != "" {
			e.statements(body, prefix+name+".")
		}
	case "class_declaration", "abstract_class_declaration", "class":
		e.class(n, prefix, decorators)
	case "interface_declaration":
		e.iface(n, prefix)
	case "function_declaration", "function_signature", "generator_function_declaration":
		e.function(n, prefix, decorators)
	case "enum_declaration":
		e.enum(n, prefix)
	case "type_alias_declaration":
		e.typeAlias(n, prefix)
	}
}

func (e *extractor) class(n *sitter.Node, prefix string, decorators []meta.Annotation) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	p := &meta.ClassPayload{
		GenericParams: e.genericParams(n.ChildByFieldName("type_parameters")),
		Annotations:   decorators,
	}
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "decorator":
			p.Annotations = append(p.Annotations, e.decorator(c))
		case "class_heritage":
			p.Bases = append(p.Bases, e.heritage(c)...)
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		p.Members = e.members(body)
	}
	e.add(&meta.Record{Name: prefix + e.text(nameNode), Kind: meta.KindClass, Payload: p})
}

func (e *extractor) heritage(n *sitter.Node) []string {
	var bases []string
	for _, clause := range namedChildren(n) {
		switch clause.Type() {
		case "extends_clause":
			var pendingName string
			flush := func() {
				if pendingName != "" {
					bases = append(bases, pendingName)
				}
				pendingName = ""
			}
			for _, c := range namedChildren(clause) {
				if c.Type() == "type_arguments" && pendingName != "" {
					pendingName = e.instance(pendingName, e.typeArgs(c))
					continue
				}
				flush()
				pendingName = e.text(c)
			}
			flush()
		case "implements_clause":
			bases = append(bases, e.refNames(namedChildren(clause))...)
		}
	}
	return bases
}

func (e *extractor) refNames(types []*sitter.Node) []string {
	var out []string
	for _, t := range types {
		if r := e.typeRef(t); r.IsRef() {
			out = append(out, r.Name)
		}
	}
	return out
}

func (e *extractor) iface(n *sitter.Node, prefix string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	p := &meta.ClassPayload{
		GenericParams: e.genericParams(n.ChildByFieldName("type_parameters")),
	}
	for _, c := range namedChildren(n) {
		if c.Type() == "extends_type_clause" {
			p.Bases = append(p.Bases, e.refNames(namedChildren(c))...)
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		p.Members = e.members(body)
	}
	e.add(&meta.Record{Name: prefix + e.text(nameNode), Kind: meta.KindObject, Payload: p})
}

// function records a top-level function. Overload signatures are collapsed:
// the implementation wins, otherwise the first signature.
func (e *extractor) function(n *sitter.Node, prefix string, decorators []meta.Annotation) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := prefix + e.text(nameNode)
	impl := n.Type() != "function_signature"
	rec := &meta.Record{Name: name, Kind: meta.KindFunction, Payload: &meta.FunctionPayload{
		Params:        e.params(n.ChildByFieldName("parameters")),
		Return:        e.annotated(n.ChildByFieldName("return_type"), meta.Prim(meta.PrimAny)),
		GenericParams: e.genericParams(n.ChildByFieldName("type_parameters")),
		Annotations:   decorators,
	}}

	if i, seen := e.funcPos[name]; seen {
		if impl && !e.funcImp[name] {
			e.batch.Records[i] = rec
			e.funcImp[name] = true
		}
		return
	}
	e.funcPos[name] = len(e.batch.Records)
	e.funcImp[name] = impl
	e.add(rec)
}

func (e *extractor) enum(n *sitter.Node, prefix string) {
	nameNode := n.ChildByFieldName("name")
	body := n.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return
	}
	p := &meta.EnumPayload{}
	next := int64(0)
	for _, c := range namedChildren(body) {
		var name string
		var value meta.EnumValue
		switch c.Type() {
		case "enum_assignment":
			name = e.text(c.ChildByFieldName("name"))
			value = e.enumValue(c.ChildByFieldName("value"))
		case "property_identifier", "string":
			name = e.text(c)
			value = meta.NumberValue(int32(next))
		default:
			continue
		}
		if value.Numeric {
			next = int64(value.Number) + 1
		}
		p.Members = append(p.Members, meta.EnumMember{Name: unquote(name), Value: value})
	}
	e.add(&meta.Record{Name: prefix + e.text(nameNode), Kind: meta.KindEnum, Payload: p})
}

func (e *extractor) enumValue(n *sitter.Node) meta.EnumValue {
	text := e.text(n)
	if n != nil && n.Type() == "string" {
		return meta.TextValue(unquote(text))
	}
	if v, err := strconv.ParseInt(text, 0, 32); err == nil {
		return meta.NumberValue(int32(v))
	}
	return meta.TextValue(text)
}

// typeAlias records `type Name<...> = value`. Unions, intersections,
// generic instances, mapped and conditional types get their own kinds;
// object literals become object records; anything else becomes a
// one-member union naming the aliased type.
func (e *extractor) typeAlias(n *sitter.Node, prefix string) {
	nameNode := n.ChildByFieldName("name")
	value := n.ChildByFieldName("value")
	if nameNode == nil || value == nil {
		return
	}
	name := prefix + e.text(nameNode)
	value = unwrapParens(value)

	switch value.Type() {
	case "union_type", "intersection_type":
		kind := meta.KindUnion
		if value.Type() == "intersection_type" {
			kind = meta.KindIntersection
		}
		e.add(&meta.Record{Name: name, Kind: kind, Payload: &meta.CompositePayload{
			Members: e.flatten(value, value.Type()),
		}})
	case "generic_type":
		base, args := e.genericParts(value)
		e.add(&meta.Record{Name: name, Kind: meta.KindGenericAlias, Payload: &meta.GenericAliasPayload{
			Base: base, Args: args,
		}})
	case "array_type":
		e.add(&meta.Record{Name: name, Kind: meta.KindGenericAlias, Payload: &meta.GenericAliasPayload{
			Base: "Array", Args: []meta.TypeRef{e.typeRef(value.NamedChild(0))},
		}})
	case "conditional_type":
		e.add(&meta.Record{Name: name, Kind: meta.KindConditional, Payload: &meta.ConditionalPayload{
			Check:   e.typeRef(value.ChildByFieldName("left")),
			Extends: e.typeRef(value.ChildByFieldName("right")),
			True:    e.typeRef(value.ChildByFieldName("consequence")),
			False:   e.typeRef(value.ChildByFieldName("alternative")),
		}})
	case "predefined_type":
		r := e.typeRef(value)
		if r.Kind == meta.RefPrimitive {
			e.add(&meta.Record{Name: name, Kind: meta.KindPrimitive, Payload: &meta.PrimitivePayload{Tag: r.Prim}})
			return
		}
		e.single(name, r)
	case "object_type":
		if m := e.mapped(value); m != nil {
			e.add(&meta.Record{Name: name, Kind: meta.KindMapped, Payload: m})
			return
		}
		e.add(&meta.Record{Name: name, Kind: meta.KindObject, Payload: &meta.ClassPayload{
			Members:       e.members(value),
			GenericParams: e.genericParams(n.ChildByFieldName("type_parameters")),
		}})
	default:
		e.single(name, e.typeRef(value))
	}
}

func (e *extractor) single(name string, r meta.TypeRef) {
	e.add(&meta.Record{Name: name, Kind: meta.KindUnion, Payload: &meta.CompositePayload{
		Members: []meta.TypeRef{r},
	}})
}

// mapped recognizes `{ [K in C]: V }`.
func (e *extractor) mapped(obj *sitter.Node) *meta.MappedPayload {
	sigs := namedChildren(obj)
	if len(sigs) != 1 || sigs[0].Type() != "index_signature" {
		return nil
	}
	sig := sigs[0]
	var clause *sitter.Node
	for _, c := range namedChildren(sig) {
		if c.Type() == "mapped_type_clause" {
			clause = c
		}
	}
	if clause == nil {
		return nil
	}
	p := &meta.MappedPayload{
		KeyName: e.text(clause.ChildByFieldName("name")),
		Value:   e.annotated(sig.ChildByFieldName("type"), meta.Prim(meta.PrimAny)),
	}
	if c := clause.ChildByFieldName("type"); c != nil {
		r := e.typeRef(c)
		p.KeyConstraint = &r
	}
	return p
}

func (e *extractor) genericParams(n *sitter.Node) []meta.GenericParam {
	if n == nil {
		return nil
	}
	var out []meta.GenericParam
	for _, c := range namedChildren(n) {
		if c.Type() != "type_parameter" {
			continue
		}
		gp := meta.GenericParam{Name: e.text(c.ChildByFieldName("name"))}
		if cons := c.ChildByFieldName("constraint"); cons != nil && cons.NamedChildCount() > 0 {
			r := e.typeRef(cons.NamedChild(0))
			gp.Constraint = &r
		}
		if def := c.ChildByFieldName("value"); def != nil && def.NamedChildCount() > 0 {
			r := e.typeRef(def.NamedChild(0))
			gp.Default = &r
		}
		out = append(out, gp)
	}
	return out
}

func (e *extractor) decorator(n *sitter.Node) meta.Annotation {
	if n.NamedChildCount() == 0 {
		return meta.Annotation{Name: strings.TrimPrefix(e.text(n), "@")}
	}
	expr := n.NamedChild(0)
	if expr.Type() != "call_expression" {
		return meta.Annotation{Name: e.text(expr)}
	}
	a := meta.Annotation{Name: e.text(expr.ChildByFieldName("function"))}
	if args := expr.ChildByFieldName("arguments"); args != nil {
		for _, arg := range namedChildren(args) {
			a.Args = append(a.Args, e.text(arg))
		}
	}
	return a
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		if c := n.NamedChild(i); c != nil && c.Type() != "comment" {
			out = append(out, c)
		}
	}
	return out
}

// hasToken reports whether n has a direct anonymous child with the given
// text, such as "static" or "?".
func hasToken(n *sitter.Node, tok string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); !c.IsNamed() && c.Type() == tok {
			return true
		}
	}
	return false
}

func unwrapParens(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "parenthesized_type" && n.NamedChildCount() > 0 {
		n = n.NamedChild(0)
	}
	return n
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'' || s[0] == '`') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
