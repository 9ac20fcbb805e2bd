package meta

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"
)

// ContentHash computes a deterministic hash of a record's canonical shape.
// Every field is rendered in stored order; list order is significant because
// the codec preserves it. Source positions and text never reach a Record, so
// whitespace or comment edits cannot change the hash.
func ContentHash(rec *Record) string {
	h := sha256.New()

	fmt.Fprintf(h, "name:%s\n", rec.Name)
	fmt.Fprintf(h, "kind:%s\n", rec.Kind)

	switch p := rec.Payload.(type) {
	case *PrimitivePayload:
		fmt.Fprintf(h, "tag:%s\n", p.Tag)
	case *ClassPayload:
		for _, m := range p.Members {
			fmt.Fprintf(h, "member:%s:%s:%s:%d\n", m.Name, m.Kind, refKey(m.Type), m.Flags)
			hashAnnotations(h, "member", m.Annotations)
			if m.Params != nil {
				fmt.Fprintf(h, "member.params:%d\n", len(m.Params))
				hashParams(h, m.Params)
			}
			if m.Overloads != nil {
				fmt.Fprintf(h, "member.overloads:%d\n", len(m.Overloads))
				for _, o := range m.Overloads {
					hashOverload(h, "overload", o)
				}
			}
			if m.Impl != nil {
				hashOverload(h, "impl", *m.Impl)
			}
		}
		hashGenerics(h, p.GenericParams)
		hashAnnotations(h, "decl", p.Annotations)
		fmt.Fprintf(h, "bases:%s\n", strings.Join(p.Bases, ","))
	case *FunctionPayload:
		hashParams(h, p.Params)
		fmt.Fprintf(h, "return:%s\n", refKey(p.Return))
		hashGenerics(h, p.GenericParams)
		hashAnnotations(h, "decl", p.Annotations)
	case *EnumPayload:
		for _, m := range p.Members {
			fmt.Fprintf(h, "enum:%s:%t:%s\n", m.Name, m.Value.Numeric, m.Value)
		}
	case *CompositePayload:
		for _, t := range p.Members {
			fmt.Fprintf(h, "of:%s\n", refKey(t))
		}
	case *MappedPayload:
		fmt.Fprintf(h, "key:%s:%s\n", p.KeyName, optionalKey(p.KeyConstraint))
		fmt.Fprintf(h, "value:%s\n", refKey(p.Value))
	case *ConditionalPayload:
		fmt.Fprintf(h, "check:%s\n", refKey(p.Check))
		fmt.Fprintf(h, "extends:%s\n", refKey(p.Extends))
		fmt.Fprintf(h, "true:%s\n", refKey(p.True))
		fmt.Fprintf(h, "false:%s\n", refKey(p.False))
	case *GenericAliasPayload:
		fmt.Fprintf(h, "base:%s\n", p.Base)
		for _, t := range p.Args {
			fmt.Fprintf(h, "arg:%s\n", refKey(t))
		}
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

func refKey(t TypeRef) string { return t.key() }

func optionalKey(t *TypeRef) string {
	if t == nil {
		return "-"
	}
	return t.key()
}

func hashParams(h hash.Hash, params []Param) {
	for i, p := range params {
		fmt.Fprintf(h, "param:%d:%s:%s:%t:%t\n", i, p.Name, refKey(p.Type), p.Optional, p.Rest)
		hashAnnotations(h, "param", p.Annotations)
	}
}

func hashOverload(h hash.Hash, label string, o Overload) {
	fmt.Fprintf(h, "%s:%d:%s\n", label, len(o.Params), refKey(o.Return))
	hashParams(h, o.Params)
	hashAnnotations(h, label, o.Annotations)
}

func hashGenerics(h hash.Hash, gps []GenericParam) {
	for i, gp := range gps {
		fmt.Fprintf(h, "typeparam:%d:%s:%s:%s\n", i, gp.Name, optionalKey(gp.Constraint), optionalKey(gp.Default))
	}
}

func hashAnnotations(h hash.Hash, site string, as []Annotation) {
	for _, a := range as {
		fmt.Fprintf(h, "annotation:%s:%s(%s)\n", site, a.Name, strings.Join(a.Args, ","))
	}
}
