package script

import (
	"context"

	"github.com/risor-io/risor/object"

	"github.com/jward/tracegraph"
)

// Host functions expose the query layer to scripts. Records are returned as
// maps with the same camelCase keys as their JSON form; unknown ids yield
// nil, mirroring the query layer.

// idBuiltin builds a host function taking a single id argument.
func idBuiltin(name string, fn func(id tracegraph.ID) object.Object) *object.Builtin {
	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError(name, 1, len(args))
		}
		id, err := toID(args[0])
		if err != nil {
			return object.Errorf("%s: %v", name, err)
		}
		return fn(id)
	})
}

// context(id) → map or nil
func makeContextFn(q *tracegraph.QueryBuilder) *object.Builtin {
	return idBuiltin("context", func(id tracegraph.ID) object.Object {
		c := q.Context(id)
		if c == nil {
			return object.Nil
		}
		return contextObject(c)
	})
}

// trace(id) → map or nil
func makeTraceFn(q *tracegraph.QueryBuilder) *object.Builtin {
	return idBuiltin("trace", func(id tracegraph.ID) object.Object {
		t := q.Trace(id)
		if t == nil {
			return object.Nil
		}
		return traceObject(q, t)
	})
}

// value_of(traceId) → the captured value, or nil
func makeValueOfFn(q *tracegraph.QueryBuilder) *object.Builtin {
	return idBuiltin("value_of", func(id tracegraph.ID) object.Object {
		v, ok := q.TraceValue(id)
		if !ok {
			return object.Nil
		}
		return toObject(v)
	})
}

// traces_of_context(id) → list of trace maps
func makeTracesOfContextFn(q *tracegraph.QueryBuilder) *object.Builtin {
	return idBuiltin("traces_of_context", func(id tracegraph.ID) object.Object {
		return traceList(q, q.TracesOfContext(id))
	})
}

// traces_of_run(id) → list of trace maps
func makeTracesOfRunFn(q *tracegraph.QueryBuilder) *object.Builtin {
	return idBuiltin("traces_of_run", func(id tracegraph.ID) object.Object {
		return traceList(q, q.TracesOfRun(id))
	})
}

// children_of(id) → list of context maps
func makeChildrenOfFn(q *tracegraph.QueryBuilder) *object.Builtin {
	return idBuiltin("children_of", func(id tracegraph.ID) object.Object {
		return contextList(q.ChildContexts(id))
	})
}

// root_of(id) → root context id, 0 for unknown contexts
func makeRootOfFn(q *tracegraph.QueryBuilder) *object.Builtin {
	return idBuiltin("root_of", func(id tracegraph.ID) object.Object {
		root, err := q.RootContextID(id)
		if err != nil {
			return object.Errorf("root_of: %v", err)
		}
		return idObject(root)
	})
}

// roots() → list of root context maps
func makeRootsFn(q *tracegraph.QueryBuilder) *object.Builtin {
	return object.NewBuiltin("roots", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("roots", 0, len(args))
		}
		return contextList(q.AllRootContexts())
	})
}

func traceList(q *tracegraph.QueryBuilder, traces []*tracegraph.Trace) object.Object {
	items := make([]object.Object, 0, len(traces))
	for _, t := range traces {
		items = append(items, traceObject(q, t))
	}
	return object.NewList(items)
}

func contextList(contexts []*tracegraph.ExecutionContext) object.Object {
	items := make([]object.Object, 0, len(contexts))
	for _, c := range contexts {
		items = append(items, contextObject(c))
	}
	return object.NewList(items)
}
