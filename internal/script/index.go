package script

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/object"

	"github.com/jward/tracegraph/internal/index"
	"github.com/jward/tracegraph/internal/store"
)

// NewTraceIndex creates an index keyed by the result of a Risor expression
// evaluated once per trace with the trace bound to the global "trace".
// A string or int result is the key; nil leaves the trace unindexed.
// Evaluation errors are logged and the trace is skipped.
func NewTraceIndex(name, source string, logger *slog.Logger) *index.Keyed[store.Trace, string] {
	logger = orDiscard(logger)
	return index.NewKeyed(name, index.TraceSource,
		func(reg *store.Registry, t *store.Trace) (string, bool) {
			kind := t.Kind
			if !kind.Valid() {
				if st := reg.StaticTraces.Get(t.StaticTraceID); st != nil {
					kind = st.Kind
				}
			}
			obj := object.NewMap(map[string]object.Object{
				"traceId":       idObject(t.TraceID),
				"contextId":     idObject(t.ContextID),
				"staticTraceId": idObject(t.StaticTraceID),
				"kind":          object.NewString(kind.String()),
				"runId":         idObject(t.RunID),
				"value":         toObject(t.Value),
				"createdAt":     object.NewInt(t.CreatedAt),
			})
			return evalKey(name, source, "trace", obj, logger)
		}, store.StaticTraces)
}

// NewContextIndex is NewTraceIndex for execution contexts, bound to the
// global "context".
func NewContextIndex(name, source string, logger *slog.Logger) *index.Keyed[store.ExecutionContext, string] {
	logger = orDiscard(logger)
	return index.NewKeyed(name, index.ContextSource,
		func(_ *store.Registry, c *store.ExecutionContext) (string, bool) {
			return evalKey(name, source, "context", contextObject(c), logger)
		})
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

func evalKey(name, source, global string, rec object.Object, logger *slog.Logger) (string, bool) {
	result, err := risor.Eval(context.Background(), source, risor.WithGlobal(global, rec))
	if err != nil {
		logger.Warn("index key script failed", "index", name, "error", err)
		return "", false
	}
	switch v := result.(type) {
	case nil:
		return "", false
	case *object.NilType:
		return "", false
	case *object.String:
		return v.Value(), true
	case *object.Int:
		return fmt.Sprint(v.Value()), true
	case *object.Bool:
		return fmt.Sprint(v.Value()), true
	}
	logger.Warn("index key script returned unsupported type", "index", name, "type", result.Type())
	return "", false
}
