// Package metatest provides record fixtures shared by package tests.
package metatest

import "github.com/jward/typemeta/internal/meta"

func ref(name string) *meta.TypeRef {
	t := meta.Ref(name)
	return &t
}

// Empty returns one record of every kind with all lists empty.
func Empty() []*meta.Record {
	return []*meta.Record{
		{Name: "Prim", Kind: meta.KindPrimitive, Payload: &meta.PrimitivePayload{Tag: meta.PrimBigInt}},
		{Name: "EmptyClass", Kind: meta.KindClass, Payload: &meta.ClassPayload{}},
		{Name: "EmptyObject", Kind: meta.KindObject, Payload: &meta.ClassPayload{}},
		{Name: "noop", Kind: meta.KindFunction, Payload: &meta.FunctionPayload{Return: meta.Prim(meta.PrimVoid)}},
		{Name: "EmptyEnum", Kind: meta.KindEnum, Payload: &meta.EnumPayload{}},
		{Name: "EmptyUnion", Kind: meta.KindUnion, Payload: &meta.CompositePayload{}},
		{Name: "EmptyIntersection", Kind: meta.KindIntersection, Payload: &meta.CompositePayload{}},
		{Name: "Rec", Kind: meta.KindMapped, Payload: &meta.MappedPayload{KeyName: "K", Value: meta.Prim(meta.PrimUnknown)}},
		{Name: "Cond", Kind: meta.KindConditional, Payload: &meta.ConditionalPayload{
			Check: meta.Ref("T"), Extends: meta.Prim(meta.PrimAny), True: meta.Prim(meta.PrimAny), False: meta.Prim(meta.PrimNever),
		}},
		{Name: "Box<>", Kind: meta.KindGenericAlias, Payload: &meta.GenericAliasPayload{Base: "Box"}},
	}
}

// EmptySlices returns the records of Empty with every non-optional list set
// to an empty, non-nil slice. They encode to the same bytes as Empty and
// decode back to Empty.
func EmptySlices() []*meta.Record {
	return []*meta.Record{
		{Name: "Prim", Kind: meta.KindPrimitive, Payload: &meta.PrimitivePayload{Tag: meta.PrimBigInt}},
		{Name: "EmptyClass", Kind: meta.KindClass, Payload: &meta.ClassPayload{
			Members: []meta.Member{}, GenericParams: []meta.GenericParam{}, Annotations: []meta.Annotation{}, Bases: []string{},
		}},
		{Name: "EmptyObject", Kind: meta.KindObject, Payload: &meta.ClassPayload{Members: []meta.Member{}}},
		{Name: "noop", Kind: meta.KindFunction, Payload: &meta.FunctionPayload{
			Params: []meta.Param{}, Return: meta.Prim(meta.PrimVoid), GenericParams: []meta.GenericParam{}, Annotations: []meta.Annotation{},
		}},
		{Name: "EmptyEnum", Kind: meta.KindEnum, Payload: &meta.EnumPayload{Members: []meta.EnumMember{}}},
		{Name: "EmptyUnion", Kind: meta.KindUnion, Payload: &meta.CompositePayload{Members: []meta.TypeRef{}}},
		{Name: "EmptyIntersection", Kind: meta.KindIntersection, Payload: &meta.CompositePayload{Members: []meta.TypeRef{}}},
		{Name: "Rec", Kind: meta.KindMapped, Payload: &meta.MappedPayload{KeyName: "K", Value: meta.Prim(meta.PrimUnknown)}},
		{Name: "Cond", Kind: meta.KindConditional, Payload: &meta.ConditionalPayload{
			Check: meta.Ref("T"), Extends: meta.Prim(meta.PrimAny), True: meta.Prim(meta.PrimAny), False: meta.Prim(meta.PrimNever),
		}},
		{Name: "Box<>", Kind: meta.KindGenericAlias, Payload: &meta.GenericAliasPayload{Base: "Box", Args: []meta.TypeRef{}}},
	}
}

// Maximal returns records of every kind exercising every optional field,
// including a three-level nested generic, a five-member mixed union and a
// method with two overloads and an implementation signature.
func Maximal() []*meta.Record {
	inject := meta.Annotation{Name: "Inject", Args: []string{"token", `"db"`}}
	overloadA := meta.Overload{
		Params: []meta.Param{{Name: "id", Type: meta.Prim(meta.PrimNumber)}},
		Return: meta.Ref("User"),
	}
	overloadB := meta.Overload{
		Params:      []meta.Param{{Name: "email", Type: meta.Prim(meta.PrimString), Annotations: []meta.Annotation{{Name: "Email"}}}},
		Return:      meta.Ref("User"),
		Annotations: []meta.Annotation{{Name: "Deprecated", Args: []string{"use id"}}},
	}
	impl := meta.Overload{
		Params: []meta.Param{
			{Name: "key", Type: meta.Ref("number | string")},
			{Name: "opts", Type: meta.Ref("Options"), Optional: true},
			{Name: "rest", Type: meta.Ref("Array<unknown>"), Rest: true},
		},
		Return: meta.Ref("Promise<User>"),
	}

	return []*meta.Record{
		{Name: "UserService", Kind: meta.KindClass, Payload: &meta.ClassPayload{
			Members: []meta.Member{
				{Name: "constructor", Kind: meta.MemberConstructor, Type: meta.Prim(meta.PrimVoid), Params: []meta.Param{
					{Name: "db", Type: meta.Ref("Database"), Annotations: []meta.Annotation{inject}},
				}},
				{Name: "cache", Kind: meta.MemberProperty, Type: meta.Ref("Map<string, Array<Promise<User>>>"),
					Flags: meta.FlagPrivate | meta.FlagReadonly},
				{Name: "find", Kind: meta.MemberMethod, Type: meta.Ref("Promise<User>"),
					Annotations: []meta.Annotation{{Name: "Get", Args: []string{`"/users/:id"`}}},
					Params:      impl.Params,
					Overloads:   []meta.Overload{overloadA, overloadB},
					Impl:        &impl},
				{Name: "count", Kind: meta.MemberAccessor, Type: meta.Prim(meta.PrimNumber), Flags: meta.FlagStatic | meta.FlagProtected},
				{Name: "label", Kind: meta.MemberProperty, Type: meta.StringLit("svc"), Flags: meta.FlagOptional, Params: []meta.Param{}},
			},
			GenericParams: []meta.GenericParam{
				{Name: "T", Constraint: ref("Entity"), Default: ref("User")},
				{Name: "U"},
			},
			Annotations: []meta.Annotation{{Name: "Injectable"}, inject},
			Bases:       []string{"BaseService", "Disposable"},
		}},
		{Name: "Shape", Kind: meta.KindObject, Payload: &meta.ClassPayload{
			Members: []meta.Member{{Name: "area", Kind: meta.MemberMethod, Type: meta.Prim(meta.PrimNumber), Params: []meta.Param{}}},
		}},
		{Name: "merge", Kind: meta.KindFunction, Payload: &meta.FunctionPayload{
			Params: []meta.Param{
				{Name: "a", Type: meta.Ref("A")},
				{Name: "b", Type: meta.Ref("B"), Optional: true, Annotations: []meta.Annotation{{Name: "Nullable"}}},
			},
			Return:        meta.Ref("A & B"),
			GenericParams: []meta.GenericParam{{Name: "A"}, {Name: "B", Constraint: ref("object")}},
			Annotations:   []meta.Annotation{{Name: "Pure"}},
		}},
		{Name: "Color", Kind: meta.KindEnum, Payload: &meta.EnumPayload{Members: []meta.EnumMember{
			{Name: "Red", Value: meta.NumberValue(0)},
			{Name: "Negative", Value: meta.NumberValue(-42)},
			{Name: "Max", Value: meta.NumberValue(2147483647)},
			{Name: "Label", Value: meta.TextValue("green ünïcode")},
			{Name: "Empty", Value: meta.TextValue("")},
		}}},
		{Name: "Mixed", Kind: meta.KindUnion, Payload: &meta.CompositePayload{Members: []meta.TypeRef{
			meta.Prim(meta.PrimString),
			meta.Ref("User"),
			meta.Lit("42"),
			meta.StringLit("a"),
			meta.Ref("Array<Map<string, Set<number>>>"),
		}}},
		{Name: "Both", Kind: meta.KindIntersection, Payload: &meta.CompositePayload{Members: []meta.TypeRef{meta.Ref("A"), meta.Ref("B")}}},
		{Name: "Flags", Kind: meta.KindMapped, Payload: &meta.MappedPayload{KeyName: "K", KeyConstraint: ref("Keys"), Value: meta.Prim(meta.PrimBoolean)}},
		{Name: "Maybe", Kind: meta.KindConditional, Payload: &meta.ConditionalPayload{
			Check: meta.Ref("T"), Extends: meta.Prim(meta.PrimString), True: meta.Ref("Array<string>"), False: meta.Prim(meta.PrimNever),
		}},
		{Name: "Array<Map<string, Set<number>>>", Kind: meta.KindGenericAlias, Payload: &meta.GenericAliasPayload{
			Base: "Array", Args: []meta.TypeRef{meta.Ref("Map<string, Set<number>>")},
		}},
		{Name: "Map<string, Set<number>>", Kind: meta.KindGenericAlias, Payload: &meta.GenericAliasPayload{
			Base: "Map", Args: []meta.TypeRef{meta.Prim(meta.PrimString), meta.Ref("Set<number>")},
		}},
		{Name: "Set<number>", Kind: meta.KindGenericAlias, Payload: &meta.GenericAliasPayload{
			Base: "Set", Args: []meta.TypeRef{meta.Prim(meta.PrimNumber)},
		}},
	}
}

// Scenario returns the Keys / Mapped / Maybe declarations as a front end
// would produce them.
func Scenario() []*meta.Record {
	return []*meta.Record{
		{Name: "Keys", Kind: meta.KindUnion, Payload: &meta.CompositePayload{Members: []meta.TypeRef{
			meta.StringLit("a"), meta.StringLit("b"),
		}}},
		{Name: "Mapped", Kind: meta.KindMapped, Payload: &meta.MappedPayload{
			KeyName: "K", KeyConstraint: ref("Keys"), Value: meta.Prim(meta.PrimNumber),
		}},
		{Name: "Array<string>", Kind: meta.KindGenericAlias, Payload: &meta.GenericAliasPayload{
			Base: "Array", Args: []meta.TypeRef{meta.Prim(meta.PrimString)},
		}},
		{Name: "Maybe", Kind: meta.KindConditional, Payload: &meta.ConditionalPayload{
			Check: meta.Ref("T"), Extends: meta.Prim(meta.PrimString), True: meta.Ref("Array<string>"), False: meta.Prim(meta.PrimNever),
		}},
	}
}

// ScenarioSource is TypeScript that extracts to Scenario.
const ScenarioSource = `type Keys = "a" | "b";
type Mapped = { [K in Keys]: number };
type Maybe<T> = T extends string ? string[] : never;
`
