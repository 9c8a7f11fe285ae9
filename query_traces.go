package tracegraph

import (
	"slices"

	"github.com/jward/tracegraph/internal/store"
)

// Trace returns the trace with the given id, or nil.
func (q *QueryBuilder) Trace(traceID ID) *Trace {
	return q.reg.Traces.Get(traceID)
}

// TraceContext returns the context a trace was recorded in, or nil.
func (q *QueryBuilder) TraceContext(traceID ID) *ExecutionContext {
	t := q.reg.Traces.Get(traceID)
	if t == nil {
		return nil
	}
	return q.reg.ExecutionContexts.Get(t.ContextID)
}

// TraceStaticContext returns the static context of the trace's context.
func (q *QueryBuilder) TraceStaticContext(traceID ID) *StaticContext {
	c := q.TraceContext(traceID)
	if c == nil {
		return nil
	}
	return q.reg.StaticContexts.Get(c.StaticContextID)
}

// TraceProgramID returns the program a trace's static site belongs to, or
// 0 when any link is missing.
func (q *QueryBuilder) TraceProgramID(traceID ID) ID {
	t := q.reg.Traces.Get(traceID)
	if t == nil {
		return 0
	}
	st := q.reg.StaticTraces.Get(t.StaticTraceID)
	if st == nil {
		return 0
	}
	sc := q.reg.StaticContexts.Get(st.StaticContextID)
	if sc == nil {
		return 0
	}
	return sc.ProgramID
}

// TraceFilePath returns the file a trace was recorded in, or "".
func (q *QueryBuilder) TraceFilePath(traceID ID) string {
	p := q.reg.StaticProgramContexts.Get(q.TraceProgramID(traceID))
	if p == nil {
		return ""
	}
	return p.FilePath
}

// TraceKind returns the trace's dynamic kind when it has one and the kind
// of its static trace otherwise.
func (q *QueryBuilder) TraceKind(traceID ID) TraceKind {
	t := q.reg.Traces.Get(traceID)
	if t == nil {
		return store.TraceKindNone
	}
	return q.kindOf(t)
}

func (q *QueryBuilder) kindOf(t *Trace) TraceKind {
	if t.Kind != store.TraceKindNone {
		return t.Kind
	}
	if st := q.reg.StaticTraces.Get(t.StaticTraceID); st != nil {
		return st.Kind
	}
	return store.TraceKindNone
}

// DoesTraceHaveValue reports whether the trace's kind carries a value.
func (q *QueryBuilder) DoesTraceHaveValue(traceID ID) bool {
	return q.TraceKind(traceID).HasValue()
}

// TraceValue returns the value a trace captured, dereferencing the value
// collection for non-primitive values. ok is false when the trace or its
// referenced value is unknown.
func (q *QueryBuilder) TraceValue(traceID ID) (value any, ok bool) {
	t := q.reg.Traces.Get(traceID)
	if t == nil {
		return nil, false
	}
	if t.ValueID == 0 {
		return t.Value, true
	}
	ref := q.reg.Values.Get(t.ValueID)
	if ref == nil {
		return nil, false
	}
	return ref.Value, true
}

// =============================================================================
// Navigation
// =============================================================================

// NextTrace returns the trace recorded right after traceID, or nil.
func (q *QueryBuilder) NextTrace(traceID ID) *Trace {
	return q.reg.Traces.Get(traceID + 1)
}

// PreviousTrace returns the trace recorded right before traceID, or nil.
func (q *QueryBuilder) PreviousTrace(traceID ID) *Trace {
	if traceID <= 1 {
		return nil
	}
	return q.reg.Traces.Get(traceID - 1)
}

// NextTraceInContext returns the next trace of the same context. Past the
// last trace of the context it steps to the globally next trace, so that
// stepping never gets stuck at a context boundary.
func (q *QueryBuilder) NextTraceInContext(traceID ID) *Trace {
	ids, i, ok := q.positionInContext(traceID)
	if !ok {
		return nil
	}
	if i+1 < len(ids) {
		return q.reg.Traces.Get(ids[i+1])
	}
	return q.NextTrace(traceID)
}

// PreviousTraceInContext mirrors NextTraceInContext.
func (q *QueryBuilder) PreviousTraceInContext(traceID ID) *Trace {
	ids, i, ok := q.positionInContext(traceID)
	if !ok {
		return nil
	}
	if i > 0 {
		return q.reg.Traces.Get(ids[i-1])
	}
	return q.PreviousTrace(traceID)
}

// positionInContext finds traceID within the id-ordered traces of its
// context.
func (q *QueryBuilder) positionInContext(traceID ID) ([]ID, int, bool) {
	t := q.reg.Traces.Get(traceID)
	if t == nil {
		return nil, 0, false
	}
	ids := q.idx.TracesByContext.Get(t.ContextID)
	i, found := slices.BinarySearch(ids, traceID)
	return ids, i, found
}

// TracesOfContext returns the traces of one context in id order.
func (q *QueryBuilder) TracesOfContext(contextID ID) []*Trace {
	return collect(q.reg.Traces, q.idx.TracesByContext.Get(contextID))
}

// TracesOfRun returns the traces of one run in id order.
func (q *QueryBuilder) TracesOfRun(runID ID) []*Trace {
	return collect(q.reg.Traces, q.idx.TracesByRun.Get(runID))
}

// TracesOfStaticTrace returns every execution of one static trace site.
func (q *QueryBuilder) TracesOfStaticTrace(staticTraceID ID) []*Trace {
	return collect(q.reg.Traces, q.idx.TracesByStaticTrace.Get(staticTraceID))
}

// TracesOfChildContexts returns the traces recorded in the direct children
// of contextID.
func (q *QueryBuilder) TracesOfChildContexts(contextID ID) []*Trace {
	if contextID == 0 {
		return nil
	}
	return collect(q.reg.Traces, q.idx.TracesByParentContext.Get(contextID))
}

// TracesOfProgram returns the traces recorded in one program.
func (q *QueryBuilder) TracesOfProgram(programID ID) []*Trace {
	return collect(q.reg.Traces, q.idx.TracesByProgram.Get(programID))
}

func (q *QueryBuilder) FirstTraceOfContext(contextID ID) *Trace {
	return q.first(q.idx.TracesByContext.Get(contextID))
}

func (q *QueryBuilder) LastTraceOfContext(contextID ID) *Trace {
	return q.last(q.idx.TracesByContext.Get(contextID))
}

func (q *QueryBuilder) FirstTraceOfRun(runID ID) *Trace {
	return q.first(q.idx.TracesByRun.Get(runID))
}

func (q *QueryBuilder) LastTraceOfRun(runID ID) *Trace {
	return q.last(q.idx.TracesByRun.Get(runID))
}

func (q *QueryBuilder) first(ids []ID) *Trace {
	if len(ids) == 0 {
		return nil
	}
	return q.reg.Traces.Get(ids[0])
}

func (q *QueryBuilder) last(ids []ID) *Trace {
	if len(ids) == 0 {
		return nil
	}
	return q.reg.Traces.Get(ids[len(ids)-1])
}
