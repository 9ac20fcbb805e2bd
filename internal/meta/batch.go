package meta

import "time"

// Shape is an anonymous or aliased composite produced by a front end. The
// front end names it up front (see CompositeName and InstanceName) so records
// in the same batch can reference it before the registry has seen it.
type Shape struct {
	// Alias is the declared name, or "" for an inline occurrence.
	Alias string
	Kind  Kind
	// Members holds union/intersection members. For KindGenericAlias it
	// holds the instance arguments.
	Members []TypeRef
	// Base is the generic base name for KindGenericAlias.
	Base string
}

// Batch is everything one producer extracted from one source unit. Batches
// are built concurrently and committed by a single writer.
type Batch struct {
	Source  string
	ModTime time.Time
	Records []*Record
	Shapes  []Shape
}

// Apply commits the batch: shapes first, so explicit aliases are known,
// then records.
func (b *Batch) Apply(reg *Registry) error {
	for _, s := range b.Shapes {
		switch s.Kind {
		case KindGenericAlias:
			reg.GenericInstance(s.Base, s.Members)
		default:
			if _, err := reg.Composite(s.Alias, s.Kind, s.Members); err != nil {
				return err
			}
		}
	}
	for _, rec := range b.Records {
		if err := reg.Register(rec); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the name the shape registers under before any aliasing.
func (s Shape) Name() string {
	switch {
	case s.Alias != "":
		return s.Alias
	case s.Kind == KindGenericAlias:
		return InstanceName(s.Base, s.Members)
	default:
		return CompositeName(s.Kind, sortRefs(s.Members))
	}
}

// Names returns every name the batch produces, shapes first, without
// duplicates.
func (b *Batch) Names() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, s := range b.Shapes {
		add(s.Name())
	}
	for _, rec := range b.Records {
		add(rec.Name)
	}
	return out
}
