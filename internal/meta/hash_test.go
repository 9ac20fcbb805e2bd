package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFunction() *Record {
	return &Record{
		Name: "greet",
		Kind: KindFunction,
		Payload: &FunctionPayload{
			Params: []Param{
				{Name: "name", Type: Prim(PrimString)},
				{Name: "times", Type: Prim(PrimNumber), Optional: true},
			},
			Return:        Prim(PrimVoid),
			GenericParams: []GenericParam{{Name: "T", Constraint: &TypeRef{Kind: RefNamed, Name: "Base"}}},
			Annotations:   []Annotation{{Name: "deprecated"}},
		},
	}
}

func TestContentHash_Stable(t *testing.T) {
	t.Parallel()
	a := ContentHash(sampleFunction())
	b := ContentHash(sampleFunction())
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestContentHash_CloneMatches(t *testing.T) {
	t.Parallel()
	rec := sampleFunction()
	assert.Equal(t, ContentHash(rec), ContentHash(rec.Clone()))
}

func TestContentHash_SensitiveToShape(t *testing.T) {
	t.Parallel()
	base := ContentHash(sampleFunction())

	tests := []struct {
		name   string
		mutate func(p *FunctionPayload)
	}{
		{"param type", func(p *FunctionPayload) { p.Params[0].Type = Prim(PrimNumber) }},
		{"param optional", func(p *FunctionPayload) { p.Params[1].Optional = false }},
		{"param order", func(p *FunctionPayload) { p.Params[0], p.Params[1] = p.Params[1], p.Params[0] }},
		{"return", func(p *FunctionPayload) { p.Return = Prim(PrimUndefined) }},
		{"constraint", func(p *FunctionPayload) { p.GenericParams[0].Constraint = nil }},
		{"annotation arg", func(p *FunctionPayload) { p.Annotations[0].Args = []string{"use other"} }},
		{"primitive vs reference", func(p *FunctionPayload) { p.Return = Ref("void") }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := sampleFunction()
			tt.mutate(rec.Payload.(*FunctionPayload))
			assert.NotEqual(t, base, ContentHash(rec))
		})
	}
}

func TestContentHash_NameAndKind(t *testing.T) {
	t.Parallel()
	a := classRecord("A")
	b := classRecord("B")
	obj := &Record{Name: "A", Kind: KindObject, Payload: &ClassPayload{}}

	assert.NotEqual(t, ContentHash(a), ContentHash(b))
	assert.NotEqual(t, ContentHash(a), ContentHash(obj))
}

func TestContentHash_EnumValueKinds(t *testing.T) {
	t.Parallel()
	num := &Record{Name: "E", Kind: KindEnum, Payload: &EnumPayload{Members: []EnumMember{{Name: "A", Value: NumberValue(1)}}}}
	str := &Record{Name: "E", Kind: KindEnum, Payload: &EnumPayload{Members: []EnumMember{{Name: "A", Value: TextValue("1")}}}}
	assert.NotEqual(t, ContentHash(num), ContentHash(str))
}

// =============================================================================
// Walks
// =============================================================================

func TestRefs_ClassMembersAndBases(t *testing.T) {
	t.Parallel()
	impl := Overload{Params: []Param{{Name: "x", Type: Ref("Input")}}, Return: Ref("Output")}
	rec := &Record{
		Name: "Svc",
		Kind: KindClass,
		Payload: &ClassPayload{
			Bases: []string{"Base"},
			Members: []Member{
				prop("dep", Ref("Dep")),
				{
					Name:      "run",
					Kind:      MemberMethod,
					Type:      Prim(PrimAny),
					Params:    []Param{},
					Overloads: []Overload{impl, {Return: Ref("Dep")}},
					Impl:      &impl,
				},
			},
			GenericParams: []GenericParam{{Name: "T", Default: &TypeRef{Kind: RefNamed, Name: "Fallback"}}},
		},
	}

	assert.Equal(t, []string{"Base", "Dep", "Input", "Output", "Fallback"}, rec.Refs())
}

func TestVisitStrings_CoversInternedFields(t *testing.T) {
	t.Parallel()
	var got []string
	sampleFunction().VisitStrings(func(s string) { got = append(got, s) })

	for _, want := range []string{"greet", "name", "times", "T", "deprecated", "Base"} {
		assert.Contains(t, got, want)
	}
}

func TestMapTypeRefs_PreservesNil(t *testing.T) {
	t.Parallel()
	rec := classRecord("C", prop("p", Prim(PrimString)))
	cp := rec.Clone()

	m := cp.Payload.(*ClassPayload).Members[0]
	assert.Nil(t, m.Params)
	assert.Nil(t, m.Overloads)
	assert.Nil(t, m.Impl)
	assert.Equal(t, rec, cp)
}

// =============================================================================
// Type helpers
// =============================================================================

func TestParseTypeRef(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want TypeRef
	}{
		{"string", Prim(PrimString)},
		{"never", Prim(PrimNever)},
		{`"a"`, Lit(`"a"`)},
		{`'a'`, Lit(`"a"`)},
		{"42", Lit("42")},
		{"-1.5", Lit("-1.5")},
		{"true", Lit("true")},
		{"Infinity", Ref("Infinity")},
		{"User", Ref("User")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTypeRef(tt.in), tt.in)
	}
}

func TestFlags_Visibility(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "public", Flags(0).Visibility())
	assert.Equal(t, "protected", FlagProtected.Visibility())
	assert.Equal(t, "private", (FlagPrivate | FlagProtected).Visibility())
	assert.Equal(t, []string{"static", "readonly"}, (FlagStatic | FlagReadonly).Names())
	assert.True(t, (FlagStatic | FlagOptional).Valid())
	assert.False(t, Flags(64).Valid())
}

func TestKind_Parse(t *testing.T) {
	t.Parallel()
	for k := KindPrimitive; k <= KindGenericAlias; k++ {
		got, ok := ParseKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, got)
	}
	assert.False(t, Kind(0).Valid())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
