package runtime

import (
	"context"
	"os"
	"sync"
	"unsafe"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/jward/typemeta/internal/frontend"
	"github.com/jward/typemeta/internal/meta"
)

// parsedTree is what a script's tree was built from.
type parsedTree struct {
	src  []byte
	lang *sitter.Language
}

// trees indexes every tree a script parsed by its root node. go-tree-sitter
// has no Node.Tree(), so lookups climb Parent() to the root first.
type trees struct {
	mu     sync.RWMutex
	parsed map[uintptr]parsedTree
}

func newTrees() *trees {
	return &trees{parsed: make(map[uintptr]parsedTree)}
}

func (ts *trees) add(tree *sitter.Tree, src []byte, lang *sitter.Language) {
	key := uintptr(unsafe.Pointer(tree.RootNode()))
	ts.mu.Lock()
	ts.parsed[key] = parsedTree{src: src, lang: lang}
	ts.mu.Unlock()
}

func (ts *trees) of(n *sitter.Node) (parsedTree, bool) {
	for n.Parent() != nil {
		n = n.Parent()
	}
	ts.mu.RLock()
	p, ok := ts.parsed[uintptr(unsafe.Pointer(n))]
	ts.mu.RUnlock()
	return p, ok
}

// treeArg resolves a node argument together with the tree it belongs to.
func (ts *trees) treeArg(fn string, arg object.Object) (*sitter.Node, parsedTree, *object.Error) {
	n, errObj := nodeArg(fn, arg)
	if errObj != nil {
		return nil, parsedTree{}, errObj
	}
	p, ok := ts.of(n)
	if !ok {
		return nil, parsedTree{}, object.Errorf("%s: node does not belong to a parsed tree", fn)
	}
	return n, p, nil
}

func nodeArg(fn string, arg object.Object) (*sitter.Node, *object.Error) {
	p, ok := arg.(*object.Proxy)
	if !ok {
		return nil, object.Errorf("%s: expected node, got %s", fn, arg.Type())
	}
	n, ok := p.Interface().(*sitter.Node)
	if !ok || n == nil {
		return nil, object.Errorf("%s: expected node, got %T", fn, p.Interface())
	}
	return n, nil
}

func stringArg(fn, what string, arg object.Object) (string, *object.Error) {
	s, err := toString(arg)
	if err != nil {
		return "", object.Errorf("%s: %s: %v", fn, what, err)
	}
	return s, nil
}

// nodeObject proxies n, mapping a missing node to Risor nil.
func nodeObject(fn string, n *sitter.Node) object.Object {
	if n == nil {
		return object.Nil
	}
	p, err := object.NewProxy(n)
	if err != nil {
		return object.Errorf("%s: %v", fn, err)
	}
	return p
}

// parse(path) → tree
func makeParseFn(ts *trees) *object.Builtin {
	return object.NewBuiltin("parse", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("parse", 1, len(args))
		}
		path, errObj := stringArg("parse", "path", args[0])
		if errObj != nil {
			return errObj
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return object.Errorf("parse: %v", err)
		}
		return ts.parse(ctx, "parse", src, path)
	})
}

// parse_src(source, [filename]) → tree
//
// The file name only picks the grammar; it defaults to TypeScript.
func makeParseSrcFn(ts *trees) *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("parse_src: expected 1 or 2 arguments, got %d", len(args))
		}
		src, errObj := stringArg("parse_src", "source", args[0])
		if errObj != nil {
			return errObj
		}
		name := "inline.ts"
		if len(args) == 2 {
			if name, errObj = stringArg("parse_src", "filename", args[1]); errObj != nil {
				return errObj
			}
		}
		return ts.parse(ctx, "parse_src", []byte(src), name)
	})
}

func (ts *trees) parse(ctx context.Context, fn string, src []byte, name string) object.Object {
	lang, ok := frontend.Grammar(name)
	if !ok {
		return object.Errorf("%s: unsupported file type %q", fn, name)
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return object.Errorf("%s: %v", fn, err)
	}
	ts.add(tree, src, lang)

	p, err := object.NewProxy(tree)
	if err != nil {
		return object.Errorf("%s: %v", fn, err)
	}
	return p
}

// node_text(node) → string
//
// Risor cannot hand a []byte to node.Content, so the source is looked up here.
func makeNodeTextFn(ts *trees) *object.Builtin {
	return object.NewBuiltin("node_text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_text", 1, len(args))
		}
		n, p, errObj := ts.treeArg("node_text", args[0])
		if errObj != nil {
			return errObj
		}
		return object.NewString(n.Content(p.src))
	})
}

// node_child(node, field) → node or nil
func makeNodeChildFn() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("node_child", 2, len(args))
		}
		n, errObj := nodeArg("node_child", args[0])
		if errObj != nil {
			return errObj
		}
		field, errObj := stringArg("node_child", "field", args[1])
		if errObj != nil {
			return errObj
		}
		return nodeObject("node_child", n.ChildByFieldName(field))
	})
}

// query(pattern, node) → list of {capture: node}
func makeQueryFn(ts *trees) *object.Builtin {
	return object.NewBuiltin("query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("query", 2, len(args))
		}
		pattern, errObj := stringArg("query", "pattern", args[0])
		if errObj != nil {
			return errObj
		}
		n, p, errObj := ts.treeArg("query", args[1])
		if errObj != nil {
			return errObj
		}

		q, err := sitter.NewQuery([]byte(pattern), p.lang)
		if err != nil {
			return object.Errorf("query: invalid pattern: %v", err)
		}
		defer q.Close()
		cursor := sitter.NewQueryCursor()
		defer cursor.Close()
		cursor.Exec(q, n)

		matches := []object.Object{}
		for {
			m, ok := cursor.NextMatch()
			if !ok {
				break
			}
			m = cursor.FilterPredicates(m, p.src)
			captures := make(map[string]object.Object, len(m.Captures))
			for _, c := range m.Captures {
				obj := nodeObject("query", c.Node)
				if errObj, ok := obj.(*object.Error); ok {
					return errObj
				}
				captures[q.CaptureNameForId(c.Index)] = obj
			}
			matches = append(matches, object.NewMap(captures))
		}
		return object.NewList(matches)
	})
}

// type_ref(node) → string
//
// Converts a type or type annotation node the way the extractor does. Shapes
// it introduces, such as "Array<string>", join the declared batch so records
// declared against the result resolve.
func makeTypeRefFn(ts *trees, declared *meta.Batch) *object.Builtin {
	return object.NewBuiltin("type_ref", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("type_ref", 1, len(args))
		}
		n, p, errObj := ts.treeArg("type_ref", args[0])
		if errObj != nil {
			return errObj
		}
		return object.NewString(frontend.TypeOf(n, p.src, declared).String())
	})
}

// logObject is the script-facing "log" global.
type logObject struct {
	logger *zap.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg) }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg) }
func (l *logObject) Error(msg string) { l.logger.Error(msg) }
