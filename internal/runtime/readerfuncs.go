package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/typemeta/internal/container"
	"github.com/jward/typemeta/internal/meta"
)

// Host functions over a loaded container. Records cross into Risor as maps
// with the same layout as their JSON rendering.

// names([prefix]) → []string
func makeNamesFn(src Source) *object.Builtin {
	return object.NewBuiltin("names", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) > 1 {
			return object.Errorf("names: expected 0 or 1 arguments, got %d", len(args))
		}
		prefix := ""
		if len(args) == 1 {
			p, err := toString(args[0])
			if err != nil {
				return object.Errorf("names: %v", err)
			}
			prefix = p
		}
		var out []string
		for _, n := range src.Names() {
			if strings.HasPrefix(n, prefix) {
				out = append(out, n)
			}
		}
		return stringList(out)
	})
}

// lookup(name) → map or nil
func makeLookupFn(src Source) *object.Builtin {
	return object.NewBuiltin("lookup", func(ctx context.Context, args ...object.Object) object.Object {
		rec, errObj := recordArg(src, "lookup", args)
		if errObj != nil {
			return errObj
		}
		obj, err := recordToObject(rec)
		if err != nil {
			return object.Errorf("lookup: %v", err)
		}
		return obj
	})
}

// kind(name) → string or nil
func makeKindFn(src Source) *object.Builtin {
	return object.NewBuiltin("kind", func(ctx context.Context, args ...object.Object) object.Object {
		rec, errObj := recordArg(src, "kind", args)
		if errObj != nil {
			return errObj
		}
		return object.NewString(rec.Kind.String())
	})
}

// dependencies(name) → []string
func makeDependenciesFn(src Source) *object.Builtin {
	return makeWalkFn("dependencies", src.Dependencies)
}

// missing(name) → []string
func makeMissingFn(src Source) *object.Builtin {
	return makeWalkFn("missing", src.Missing)
}

func makeWalkFn(fnName string, walk func(string) ([]string, error)) *object.Builtin {
	return object.NewBuiltin(fnName, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError(fnName, 1, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("%s: %v", fnName, err)
		}
		names, err := walk(name)
		if err != nil {
			return object.Errorf("%s: %v", fnName, err)
		}
		return stringList(names)
	})
}

// recordArg resolves the single name argument. A name that is not in the
// container yields (nil, object.Nil).
func recordArg(src Source, fnName string, args []object.Object) (*meta.Record, object.Object) {
	if len(args) != 1 {
		return nil, object.NewArgsError(fnName, 1, len(args))
	}
	name, err := toString(args[0])
	if err != nil {
		return nil, object.Errorf("%s: %v", fnName, err)
	}
	rec, err := src.Record(name)
	if errors.Is(err, container.ErrNotFound) {
		return nil, object.Nil
	}
	if err != nil {
		return nil, object.Errorf("%s: %v", fnName, err)
	}
	return rec, nil
}

// makeDeclareFn creates "declare", which adds a record to batch. The map
// uses the JSON record layout: {name, kind, payload}.
//
// declare(record) → string
func makeDeclareFn(batch *meta.Batch) *object.Builtin {
	return object.NewBuiltin("declare", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("declare", 1, len(args))
		}
		if _, err := extractMap(args[0]); err != nil {
			return object.Errorf("declare: %v", err)
		}
		data, err := json.Marshal(objectToGo(args[0]))
		if err != nil {
			return object.Errorf("declare: %v", err)
		}
		rec := &meta.Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			return object.Errorf("declare: %v", err)
		}
		batch.Records = append(batch.Records, rec)
		return object.NewString(rec.Name)
	})
}

// --- Conversion helpers ---

func recordToObject(rec *meta.Record) (object.Object, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return goToObject(v), nil
}

// goToObject converts decoded JSON values to Risor objects. Integral
// numbers become ints.
func goToObject(v any) object.Object {
	switch val := v.(type) {
	case nil:
		return object.Nil
	case bool:
		return object.NewBool(val)
	case string:
		return object.NewString(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return object.NewInt(int64(val))
		}
		return object.NewFloat(val)
	case []any:
		items := make([]object.Object, len(val))
		for i, item := range val {
			items[i] = goToObject(item)
		}
		return object.NewList(items)
	case map[string]any:
		m := make(map[string]object.Object, len(val))
		for k, item := range val {
			m[k] = goToObject(item)
		}
		return object.NewMap(m)
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}

// objectToGo converts Risor values back to plain Go values for JSON.
func objectToGo(obj object.Object) any {
	switch val := obj.(type) {
	case *object.NilType:
		return nil
	case *object.Bool:
		return val.Value()
	case *object.String:
		return val.Value()
	case *object.Int:
		return val.Value()
	case *object.Float:
		return val.Value()
	case *object.List:
		items := val.Value()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = objectToGo(item)
		}
		return out
	case *object.Map:
		out := make(map[string]any, len(val.Value()))
		for k, item := range val.Value() {
			out[k] = objectToGo(item)
		}
		return out
	default:
		return obj.Inspect()
	}
}

func stringList(ss []string) object.Object {
	items := make([]object.Object, len(ss))
	for i, s := range ss {
		items[i] = object.NewString(s)
	}
	return object.NewList(items)
}

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}
