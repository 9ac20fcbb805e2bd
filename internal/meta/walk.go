package meta

// VisitTypeRefs calls fn for every TypeRef reachable from the record's
// payload, in stored order.
func (r *Record) VisitTypeRefs(fn func(TypeRef)) {
	optional := func(t *TypeRef) {
		if t != nil {
			fn(*t)
		}
	}
	generics := func(gps []GenericParam) {
		for _, gp := range gps {
			optional(gp.Constraint)
			optional(gp.Default)
		}
	}
	params := func(ps []Param) {
		for _, p := range ps {
			fn(p.Type)
		}
	}
	overload := func(o Overload) {
		params(o.Params)
		fn(o.Return)
	}

	switch p := r.Payload.(type) {
	case *ClassPayload:
		for _, m := range p.Members {
			fn(m.Type)
			params(m.Params)
			for _, o := range m.Overloads {
				overload(o)
			}
			if m.Impl != nil {
				overload(*m.Impl)
			}
		}
		generics(p.GenericParams)
	case *FunctionPayload:
		params(p.Params)
		fn(p.Return)
		generics(p.GenericParams)
	case *CompositePayload:
		for _, t := range p.Members {
			fn(t)
		}
	case *MappedPayload:
		optional(p.KeyConstraint)
		fn(p.Value)
	case *ConditionalPayload:
		fn(p.Check)
		fn(p.Extends)
		fn(p.True)
		fn(p.False)
	case *GenericAliasPayload:
		for _, t := range p.Args {
			fn(t)
		}
	}
}

// Refs returns the distinct names referenced by the record, in first-seen
// order. Generic alias bases and class bases count as references.
func (r *Record) Refs() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	switch p := r.Payload.(type) {
	case *ClassPayload:
		for _, b := range p.Bases {
			add(b)
		}
	case *GenericAliasPayload:
		add(p.Base)
	}
	r.VisitTypeRefs(func(t TypeRef) {
		if t.IsRef() {
			add(t.Name)
		}
	})
	return out
}

// VisitStrings calls fn for every string the codec interns for this record.
// Enum string values are written inline and are not visited.
func (r *Record) VisitStrings(fn func(string)) {
	fn(r.Name)
	annotations := func(as []Annotation) {
		for _, a := range as {
			fn(a.Name)
			for _, arg := range a.Args {
				fn(arg)
			}
		}
	}
	params := func(ps []Param) {
		for _, p := range ps {
			fn(p.Name)
			annotations(p.Annotations)
		}
	}
	overload := func(o Overload) {
		params(o.Params)
		annotations(o.Annotations)
	}
	switch p := r.Payload.(type) {
	case *ClassPayload:
		for _, m := range p.Members {
			fn(m.Name)
			annotations(m.Annotations)
			params(m.Params)
			for _, o := range m.Overloads {
				overload(o)
			}
			if m.Impl != nil {
				overload(*m.Impl)
			}
		}
		for _, gp := range p.GenericParams {
			fn(gp.Name)
		}
		annotations(p.Annotations)
		for _, b := range p.Bases {
			fn(b)
		}
	case *FunctionPayload:
		params(p.Params)
		for _, gp := range p.GenericParams {
			fn(gp.Name)
		}
		annotations(p.Annotations)
	case *EnumPayload:
		for _, m := range p.Members {
			fn(m.Name)
		}
	case *MappedPayload:
		fn(p.KeyName)
	case *GenericAliasPayload:
		fn(p.Base)
	}
	r.VisitTypeRefs(func(t TypeRef) {
		if t.Kind != RefPrimitive {
			fn(t.Name)
		}
	})
}

// MapTypeRefs returns a deep copy of the record with every TypeRef replaced
// by fn(TypeRef). Slices that were nil stay nil.
func (r *Record) MapTypeRefs(fn func(TypeRef) TypeRef) *Record {
	optional := func(t *TypeRef) *TypeRef {
		if t == nil {
			return nil
		}
		v := fn(*t)
		return &v
	}
	refs := func(ts []TypeRef) []TypeRef {
		if ts == nil {
			return nil
		}
		out := make([]TypeRef, len(ts))
		for i, t := range ts {
			out[i] = fn(t)
		}
		return out
	}
	generics := func(gps []GenericParam) []GenericParam {
		if gps == nil {
			return nil
		}
		out := make([]GenericParam, len(gps))
		for i, gp := range gps {
			out[i] = GenericParam{Name: gp.Name, Constraint: optional(gp.Constraint), Default: optional(gp.Default)}
		}
		return out
	}
	params := func(ps []Param) []Param {
		if ps == nil {
			return nil
		}
		out := make([]Param, len(ps))
		for i, p := range ps {
			out[i] = p
			out[i].Type = fn(p.Type)
			out[i].Annotations = cloneAnnotations(p.Annotations)
		}
		return out
	}
	overload := func(o Overload) Overload {
		return Overload{Params: params(o.Params), Return: fn(o.Return), Annotations: cloneAnnotations(o.Annotations)}
	}

	out := &Record{Name: r.Name, Kind: r.Kind}
	switch p := r.Payload.(type) {
	case *PrimitivePayload:
		out.Payload = &PrimitivePayload{Tag: p.Tag}
	case *ClassPayload:
		c := &ClassPayload{
			GenericParams: generics(p.GenericParams),
			Annotations:   cloneAnnotations(p.Annotations),
			Bases:         cloneStrings(p.Bases),
		}
		if p.Members != nil {
			c.Members = make([]Member, len(p.Members))
			for i, m := range p.Members {
				nm := Member{
					Name:        m.Name,
					Kind:        m.Kind,
					Type:        fn(m.Type),
					Flags:       m.Flags,
					Annotations: cloneAnnotations(m.Annotations),
					Params:      params(m.Params),
				}
				if m.Overloads != nil {
					nm.Overloads = make([]Overload, len(m.Overloads))
					for j, o := range m.Overloads {
						nm.Overloads[j] = overload(o)
					}
				}
				if m.Impl != nil {
					impl := overload(*m.Impl)
					nm.Impl = &impl
				}
				c.Members[i] = nm
			}
		}
		out.Payload = c
	case *FunctionPayload:
		out.Payload = &FunctionPayload{
			Params:        params(p.Params),
			Return:        fn(p.Return),
			GenericParams: generics(p.GenericParams),
			Annotations:   cloneAnnotations(p.Annotations),
		}
	case *EnumPayload:
		var members []EnumMember
		if p.Members != nil {
			members = make([]EnumMember, len(p.Members))
			copy(members, p.Members)
		}
		out.Payload = &EnumPayload{Members: members}
	case *CompositePayload:
		out.Payload = &CompositePayload{Members: refs(p.Members)}
	case *MappedPayload:
		out.Payload = &MappedPayload{KeyName: p.KeyName, KeyConstraint: optional(p.KeyConstraint), Value: fn(p.Value)}
	case *ConditionalPayload:
		out.Payload = &ConditionalPayload{Check: fn(p.Check), Extends: fn(p.Extends), True: fn(p.True), False: fn(p.False)}
	case *GenericAliasPayload:
		out.Payload = &GenericAliasPayload{Base: p.Base, Args: refs(p.Args)}
	}
	return out
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	return r.MapTypeRefs(func(t TypeRef) TypeRef { return t })
}

func cloneAnnotations(as []Annotation) []Annotation {
	if as == nil {
		return nil
	}
	out := make([]Annotation, len(as))
	for i, a := range as {
		out[i] = Annotation{Name: a.Name, Args: cloneStrings(a.Args)}
	}
	return out
}

func cloneStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	copy(out, ss)
	return out
}
