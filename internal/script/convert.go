package script

import (
	"fmt"
	"reflect"

	"fortio.org/safecast"
	"github.com/risor-io/risor/object"

	"github.com/jward/tracegraph"
	"github.com/jward/tracegraph/internal/store"
)

func contextObject(c *store.ExecutionContext) object.Object {
	return object.NewMap(map[string]object.Object{
		"contextId":        idObject(c.ContextID),
		"contextKind":      object.NewString(c.ContextKind.String()),
		"staticContextId":  idObject(c.StaticContextID),
		"parentContextId":  idObject(c.ParentContextID),
		"schedulerTraceId": idObject(c.SchedulerTraceID),
		"stackDepth":       object.NewInt(int64(c.StackDepth)),
		"runId":            idObject(c.RunID),
		"createdAt":        object.NewInt(c.CreatedAt),
		"poppedAt":         object.NewInt(c.PoppedAt),
	})
}

// traceObject includes the effective kind and the resolved value.
func traceObject(q *tracegraph.QueryBuilder, t *store.Trace) object.Object {
	value, _ := q.TraceValue(t.TraceID)
	return object.NewMap(map[string]object.Object{
		"traceId":       idObject(t.TraceID),
		"contextId":     idObject(t.ContextID),
		"staticTraceId": idObject(t.StaticTraceID),
		"kind":          object.NewString(q.TraceKind(t.TraceID).String()),
		"runId":         idObject(t.RunID),
		"hasValue":      object.NewBool(q.DoesTraceHaveValue(t.TraceID)),
		"value":         toObject(value),
		"createdAt":     object.NewInt(t.CreatedAt),
	})
}

func idObject(id store.ID) object.Object {
	v, err := safecast.Conv[int64](uint64(id))
	if err != nil {
		return object.Errorf("id %d out of range", uint64(id))
	}
	return object.NewInt(v)
}

func toID(obj object.Object) (store.ID, error) {
	i, ok := obj.(*object.Int)
	if !ok {
		return 0, fmt.Errorf("expected int id, got %s", obj.Type())
	}
	v, err := safecast.Conv[uint64](i.Value())
	if err != nil {
		return 0, fmt.Errorf("invalid id %d: %w", i.Value(), err)
	}
	return store.ID(v), nil
}

// toObject converts a captured value (JSON or msgpack shaped) to a Risor
// object.
func toObject(v any) object.Object {
	switch v := v.(type) {
	case nil:
		return object.Nil
	case bool:
		return object.NewBool(v)
	case string:
		return object.NewString(v)
	case float64:
		return object.NewFloat(v)
	case float32:
		return object.NewFloat(float64(v))
	case []any:
		items := make([]object.Object, 0, len(v))
		for _, item := range v {
			items = append(items, toObject(item))
		}
		return object.NewList(items)
	case map[string]any:
		m := make(map[string]object.Object, len(v))
		for k, item := range v {
			m[k] = toObject(item)
		}
		return object.NewMap(m)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return object.NewInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if i, err := safecast.Conv[int64](rv.Uint()); err == nil {
			return object.NewInt(i)
		}
		return object.NewFloat(float64(rv.Uint()))
	}
	return object.NewString(fmt.Sprint(v))
}
