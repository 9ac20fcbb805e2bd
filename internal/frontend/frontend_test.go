package frontend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/typemeta/internal/meta"
	"github.com/jward/typemeta/internal/meta/metatest"
)

func extract(t *testing.T, path, src string) *meta.Batch {
	t.Helper()
	b, err := Extract(context.Background(), path, []byte(src))
	require.NoError(t, err)
	return b
}

func record(t *testing.T, b *meta.Batch, name string) *meta.Record {
	t.Helper()
	for _, r := range b.Records {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("record %q not extracted; have %v", name, b.Names())
	return nil
}

func member(t *testing.T, p *meta.ClassPayload, name string, kind meta.MemberKind) meta.Member {
	t.Helper()
	for _, m := range p.Members {
		if m.Name == name && m.Kind == kind {
			return m
		}
	}
	t.Fatalf("member %s %q not found", kind, name)
	return meta.Member{}
}

// =============================================================================
// Languages
// =============================================================================

func TestSupported(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{"a.ts", true},
		{"a.d.ts", true},
		{"a.tsx", true},
		{"a.mts", true},
		{"dir/A.TS", true},
		{"a.js", false},
		{"Makefile", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Supported(tt.path))
		})
	}
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	t.Parallel()
	_, err := Extract(context.Background(), "a.py", []byte("x = 1"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

// =============================================================================
// Type aliases
// =============================================================================

func TestExtract_Scenario(t *testing.T) {
	t.Parallel()
	b := extract(t, "scenario.ts", metatest.ScenarioSource)
	assert.Equal(t, []string{"Array<string>", "Keys", "Mapped", "Maybe"}, b.Names())

	reg := meta.NewRegistry()
	require.NoError(t, b.Apply(reg))
	for _, want := range metatest.Scenario() {
		got, ok := reg.Get(want.Name)
		require.True(t, ok, want.Name)
		assert.Equal(t, want.Kind, got.Kind, want.Name)
		assert.Equal(t, want.Payload, got.Payload, want.Name)
	}
}

func TestExtract_AliasKinds(t *testing.T) {
	t.Parallel()
	b := extract(t, "alias.ts", `
type ID = string;
type Ref = User;
type Both = A & B & C;
type Names = Array<string>;
type Ids = number[];
type Box<T> = { readonly value: T; label?: string };
`)

	id := record(t, b, "ID")
	assert.Equal(t, meta.KindPrimitive, id.Kind)
	assert.Equal(t, &meta.PrimitivePayload{Tag: meta.PrimString}, id.Payload)

	ref := record(t, b, "Ref")
	assert.Equal(t, meta.KindUnion, ref.Kind)
	assert.Equal(t, []meta.TypeRef{meta.Ref("User")}, ref.Payload.(*meta.CompositePayload).Members)

	both := record(t, b, "Both")
	assert.Equal(t, meta.KindIntersection, both.Kind)
	assert.Equal(t, []meta.TypeRef{meta.Ref("A"), meta.Ref("B"), meta.Ref("C")}, both.Payload.(*meta.CompositePayload).Members)

	names := record(t, b, "Names")
	assert.Equal(t, &meta.GenericAliasPayload{Base: "Array", Args: []meta.TypeRef{meta.Prim(meta.PrimString)}}, names.Payload)
	ids := record(t, b, "Ids")
	assert.Equal(t, &meta.GenericAliasPayload{Base: "Array", Args: []meta.TypeRef{meta.Prim(meta.PrimNumber)}}, ids.Payload)

	box := record(t, b, "Box")
	assert.Equal(t, meta.KindObject, box.Kind)
	bp := box.Payload.(*meta.ClassPayload)
	require.Len(t, bp.GenericParams, 1)
	assert.Equal(t, "T", bp.GenericParams[0].Name)
	v := member(t, bp, "value", meta.MemberProperty)
	assert.Equal(t, meta.Ref("T"), v.Type)
	assert.True(t, v.Flags.Has(meta.FlagReadonly))
	l := member(t, bp, "label", meta.MemberProperty)
	assert.True(t, l.Flags.Has(meta.FlagOptional))
}

func TestExtract_InlineShapes(t *testing.T) {
	t.Parallel()
	b := extract(t, "inline.ts", `
interface Holder {
  a: string | number;
  b: number | string;
  c: Promise<User[]>;
}
`)
	h := record(t, b, "Holder").Payload.(*meta.ClassPayload)
	a := member(t, h, "a", meta.MemberProperty)
	bm := member(t, h, "b", meta.MemberProperty)
	assert.Equal(t, meta.Ref("number | string"), a.Type)
	assert.Equal(t, a.Type, bm.Type)
	assert.Equal(t, meta.Ref("Promise<Array<User>>"), member(t, h, "c", meta.MemberProperty).Type)

	reg := meta.NewRegistry()
	require.NoError(t, b.Apply(reg))
	// one union, two instances, one interface
	assert.Equal(t, 4, reg.Len())
	_, ok := reg.Get("Array<User>")
	assert.True(t, ok)
}

func TestTypeOf(t *testing.T) {
	t.Parallel()
	src := []byte("let a: Map<string, User[]>;\nlet b: (x: number) => void;\nlet c;\n")
	lang, ok := Grammar("a.ts")
	require.True(t, ok)
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	require.NoError(t, err)
	defer tree.Close()

	var decls []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "variable_declarator" {
			decls = append(decls, n)
		}
		for _, c := range namedChildren(n) {
			walk(c)
		}
	}
	walk(tree.RootNode())
	require.Len(t, decls, 3)

	b := &meta.Batch{}
	assert.Equal(t, meta.Ref("Map<string, Array<User>>"), TypeOf(decls[0].ChildByFieldName("type"), src, b))
	assert.Equal(t, meta.Prim(meta.PrimObject), TypeOf(decls[1].ChildByFieldName("type"), src, b))
	assert.Equal(t, meta.Prim(meta.PrimAny), TypeOf(decls[2].ChildByFieldName("type"), src, b))
	assert.Equal(t, []string{"Array<User>", "Map<string, Array<User>>"}, b.Names())
}

// =============================================================================
// Declarations
// =============================================================================

func TestExtract_Class(t *testing.T) {
	t.Parallel()
	b := extract(t, "service.ts", `
@Entity("users")
export class UserService<T extends Model = User> extends Base<T> implements Service, Disposable {
  static instances: number = 0;
  private readonly cache?: Map<string, T>;

  constructor(private readonly db: Database, public name?: string) {
    super();
  }

  find(id: string): T;
  find(id: number): T;
  find(id: string | number): T {
    return null as any;
  }

  @Log()
  save(@Valid() item: T, ...rest: T[]): Promise<void> {}

  protected get size(): number { return 0; }
  protected set size(v: number) {}
}
`)
	rec := record(t, b, "UserService")
	assert.Equal(t, meta.KindClass, rec.Kind)
	p := rec.Payload.(*meta.ClassPayload)

	assert.Equal(t, []meta.Annotation{{Name: "Entity", Args: []string{`"users"`}}}, p.Annotations)
	assert.Equal(t, []string{"Base<T>", "Service", "Disposable"}, p.Bases)
	require.Len(t, p.GenericParams, 1)
	gp := p.GenericParams[0]
	assert.Equal(t, "T", gp.Name)
	require.NotNil(t, gp.Constraint)
	assert.Equal(t, meta.Ref("Model"), *gp.Constraint)
	require.NotNil(t, gp.Default)
	assert.Equal(t, meta.Ref("User"), *gp.Default)

	inst := member(t, p, "instances", meta.MemberProperty)
	assert.Equal(t, meta.Prim(meta.PrimNumber), inst.Type)
	assert.Equal(t, meta.FlagStatic, inst.Flags)

	cache := member(t, p, "cache", meta.MemberProperty)
	assert.Equal(t, meta.Ref("Map<string, T>"), cache.Type)
	assert.Equal(t, meta.FlagPrivate|meta.FlagReadonly|meta.FlagOptional, cache.Flags)
	assert.Equal(t, "private", cache.Flags.Visibility())

	ctor := member(t, p, "constructor", meta.MemberConstructor)
	assert.Equal(t, meta.Prim(meta.PrimVoid), ctor.Type)
	require.Len(t, ctor.Params, 2)
	assert.True(t, ctor.Params[1].Optional)

	db := member(t, p, "db", meta.MemberProperty)
	assert.Equal(t, meta.Ref("Database"), db.Type)
	assert.Equal(t, meta.FlagPrivate|meta.FlagReadonly, db.Flags)
	assert.Equal(t, meta.FlagOptional, member(t, p, "name", meta.MemberProperty).Flags)

	find := member(t, p, "find", meta.MemberMethod)
	assert.Nil(t, find.Params)
	require.Len(t, find.Overloads, 2)
	assert.Equal(t, meta.Prim(meta.PrimString), find.Overloads[0].Params[0].Type)
	assert.Equal(t, meta.Prim(meta.PrimNumber), find.Overloads[1].Params[0].Type)
	require.NotNil(t, find.Impl)
	assert.Equal(t, meta.Ref("number | string"), find.Impl.Params[0].Type)
	assert.Equal(t, meta.Ref("T"), find.Type)

	save := member(t, p, "save", meta.MemberMethod)
	assert.Equal(t, []meta.Annotation{{Name: "Log"}}, save.Annotations)
	assert.Equal(t, meta.Ref("Promise<void>"), save.Type)
	require.Len(t, save.Params, 2)
	assert.Equal(t, []meta.Annotation{{Name: "Valid"}}, save.Params[0].Annotations)
	assert.True(t, save.Params[1].Rest)
	assert.Equal(t, "rest", save.Params[1].Name)
	assert.Equal(t, meta.Ref("Array<T>"), save.Params[1].Type)

	size := member(t, p, "size", meta.MemberAccessor)
	assert.Equal(t, meta.Prim(meta.PrimNumber), size.Type)
	assert.Equal(t, "protected", size.Flags.Visibility())

	var accessors int
	for _, m := range p.Members {
		if m.Name == "size" {
			accessors++
		}
	}
	assert.Equal(t, 1, accessors)
}

func TestExtract_InterfaceOverloads(t *testing.T) {
	t.Parallel()
	b := extract(t, "api.ts", `
export interface Api extends Base, Other {
  fetch(key: string): string;
  fetch(key: number): string;
  close(): void;
}
`)
	p := record(t, b, "Api").Payload.(*meta.ClassPayload)
	assert.Equal(t, []string{"Base", "Other"}, p.Bases)

	fetch := member(t, p, "fetch", meta.MemberMethod)
	assert.Len(t, fetch.Overloads, 2)
	assert.Nil(t, fetch.Impl)

	closeM := member(t, p, "close", meta.MemberMethod)
	assert.NotNil(t, closeM.Params)
	assert.Empty(t, closeM.Params)
	assert.Nil(t, closeM.Overloads)
	assert.Equal(t, meta.Prim(meta.PrimVoid), closeM.Type)
}

func TestExtract_FunctionOverloadsKeepImplementation(t *testing.T) {
	t.Parallel()
	b := extract(t, "parse.ts", `
export function parse(s: string): number;
export function parse(s: string, radix?: number): number;
export function parse(s: string, radix?: number): number { return 0; }
declare function ambient<T>(x: T): T;
`)
	require.Len(t, b.Records, 2)

	fp := record(t, b, "parse").Payload.(*meta.FunctionPayload)
	require.Len(t, fp.Params, 2)
	assert.Equal(t, "radix", fp.Params[1].Name)
	assert.True(t, fp.Params[1].Optional)
	assert.Equal(t, meta.Prim(meta.PrimNumber), fp.Return)

	ap := record(t, b, "ambient").Payload.(*meta.FunctionPayload)
	require.Len(t, ap.GenericParams, 1)
	assert.Equal(t, meta.Ref("T"), ap.Return)
}

func TestExtract_Enums(t *testing.T) {
	t.Parallel()
	b := extract(t, "enums.ts", `
enum Color { Red, Green = 5, Blue }
export enum Dir { Up = "UP", Down = "DOWN" }
`)
	assert.Equal(t, []meta.EnumMember{
		{Name: "Red", Value: meta.NumberValue(0)},
		{Name: "Green", Value: meta.NumberValue(5)},
		{Name: "Blue", Value: meta.NumberValue(6)},
	}, record(t, b, "Color").Payload.(*meta.EnumPayload).Members)
	assert.Equal(t, []meta.EnumMember{
		{Name: "Up", Value: meta.TextValue("UP")},
		{Name: "Down", Value: meta.TextValue("DOWN")},
	}, record(t, b, "Dir").Payload.(*meta.EnumPayload).Members)
}

func TestExtract_NamespaceQualifiesNames(t *testing.T) {
	t.Parallel()
	b := extract(t, "geo.ts", `
namespace Geo {
  export interface Point { x: number; y: number }
}
`)
	assert.Equal(t, []string{"Geo.Point"}, b.Names())
}

func TestExtract_TSX(t *testing.T) {
	t.Parallel()
	b := extract(t, "view.tsx", `
interface Props { title: string }
export function View(props: Props) { return <div>{props.title}</div>; }
`)
	assert.Equal(t, []string{"Props", "View"}, b.Names())
	fp := record(t, b, "View").Payload.(*meta.FunctionPayload)
	assert.Equal(t, meta.Ref("Props"), fp.Params[0].Type)
	assert.Equal(t, meta.Prim(meta.PrimAny), fp.Return)
}

func TestExtractFile_SetsModTime(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "a.ts")
	require.NoError(t, os.WriteFile(path, []byte("type A = string;"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	b, err := ExtractFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, b.Source)
	assert.True(t, info.ModTime().Equal(b.ModTime))
	assert.Equal(t, []string{"A"}, b.Names())
}
