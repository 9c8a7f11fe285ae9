package index

import "github.com/jward/tracegraph/internal/store"

// Names of the built-in indexes.
const (
	TracesByContext       = "traces.byContext"
	TracesByStaticTrace   = "traces.byStaticTrace"
	TracesByRun           = "traces.byRun"
	TracesByParentContext = "traces.byParentContext"
	TracesByProgram       = "traces.byProgram"

	ContextsByParent        = "contexts.byParent"
	ContextsByRun           = "contexts.byRun"
	ContextsByStaticContext = "contexts.byStaticContext"

	StaticTracesByStaticContext = "staticTraces.byStaticContext"
	StaticContextsByProgram     = "staticContexts.byProgram"
)

// Builtins is the standard index set used by the query layer.
type Builtins struct {
	// TracesByContext maps a context to its traces.
	TracesByContext *Keyed[store.Trace, store.ID]
	// TracesByStaticTrace maps a static trace site to its traces in all runs.
	TracesByStaticTrace *Keyed[store.Trace, store.ID]
	TracesByRun         *Keyed[store.Trace, store.ID]
	// TracesByParentContext maps a context to the traces of its children.
	TracesByParentContext *Keyed[store.Trace, store.ID]
	TracesByProgram       *Keyed[store.Trace, store.ID]

	// ContextsByParent maps a context to its child contexts. Key 0 holds
	// the run roots.
	ContextsByParent        *Keyed[store.ExecutionContext, store.ID]
	ContextsByRun           *Keyed[store.ExecutionContext, store.ID]
	ContextsByStaticContext *Keyed[store.ExecutionContext, store.ID]

	StaticTracesByStaticContext *Keyed[store.StaticTrace, store.ID]
	StaticContextsByProgram     *Keyed[store.StaticContext, store.ID]
}

// NewBuiltins creates the standard indexes. They still need to be
// registered with an Engine.
func NewBuiltins() *Builtins {
	return &Builtins{
		TracesByContext: NewKeyed(TracesByContext, TraceSource,
			func(_ *store.Registry, t *store.Trace) (store.ID, bool) { return t.ContextID, true }),
		TracesByStaticTrace: NewKeyed(TracesByStaticTrace, TraceSource,
			func(_ *store.Registry, t *store.Trace) (store.ID, bool) { return t.StaticTraceID, true }),
		TracesByRun: NewKeyed(TracesByRun, TraceSource,
			func(_ *store.Registry, t *store.Trace) (store.ID, bool) { return t.RunID, true }),
		TracesByParentContext: NewKeyed(TracesByParentContext, TraceSource,
			func(reg *store.Registry, t *store.Trace) (store.ID, bool) {
				c := reg.ExecutionContexts.Get(t.ContextID)
				if c == nil {
					return 0, false
				}
				return c.ParentContextID, true
			}, store.ExecutionContexts),
		TracesByProgram: NewKeyed(TracesByProgram, TraceSource,
			func(reg *store.Registry, t *store.Trace) (store.ID, bool) {
				st := reg.StaticTraces.Get(t.StaticTraceID)
				if st == nil {
					return 0, false
				}
				sc := reg.StaticContexts.Get(st.StaticContextID)
				if sc == nil {
					return 0, false
				}
				return sc.ProgramID, true
			}, store.StaticTraces, store.StaticContexts),

		ContextsByParent: NewKeyed(ContextsByParent, ContextSource,
			func(_ *store.Registry, c *store.ExecutionContext) (store.ID, bool) { return c.ParentContextID, true }),
		ContextsByRun: NewKeyed(ContextsByRun, ContextSource,
			func(_ *store.Registry, c *store.ExecutionContext) (store.ID, bool) { return c.RunID, true }),
		ContextsByStaticContext: NewKeyed(ContextsByStaticContext, ContextSource,
			func(_ *store.Registry, c *store.ExecutionContext) (store.ID, bool) { return c.StaticContextID, true }),

		StaticTracesByStaticContext: NewKeyed(StaticTracesByStaticContext, StaticTraceSource,
			func(_ *store.Registry, s *store.StaticTrace) (store.ID, bool) { return s.StaticContextID, true }),
		StaticContextsByProgram: NewKeyed(StaticContextsByProgram, StaticContextSource,
			func(_ *store.Registry, s *store.StaticContext) (store.ID, bool) { return s.ProgramID, true }),
	}
}

// All returns the built-in indexes in registration order.
func (b *Builtins) All() []Index {
	return []Index{
		b.TracesByContext, b.TracesByStaticTrace, b.TracesByRun,
		b.TracesByParentContext, b.TracesByProgram,
		b.ContextsByParent, b.ContextsByRun, b.ContextsByStaticContext,
		b.StaticTracesByStaticContext, b.StaticContextsByProgram,
	}
}

// RegisterAll registers every built-in index with e.
func (b *Builtins) RegisterAll(e *Engine) error {
	for _, idx := range b.All() {
		if err := e.Register(idx); err != nil {
			return err
		}
	}
	return nil
}
