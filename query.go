package tracegraph

import (
	"fmt"

	"github.com/jward/tracegraph/internal/index"
	"github.com/jward/tracegraph/internal/store"
)

// QueryBuilder answers questions about one application from its registry
// and built-in indexes. It never mutates either; repeated calls over
// unchanged data return identical results.
type QueryBuilder struct {
	reg *store.Registry
	idx *index.Builtins
}

// Context returns the execution context with the given id, or nil.
func (q *QueryBuilder) Context(contextID ID) *ExecutionContext {
	return q.reg.ExecutionContexts.Get(contextID)
}

// StaticContext returns the static context with the given id, or nil.
func (q *QueryBuilder) StaticContext(staticContextID ID) *StaticContext {
	return q.reg.StaticContexts.Get(staticContextID)
}

// StaticTrace returns the static trace with the given id, or nil.
func (q *QueryBuilder) StaticTrace(staticTraceID ID) *StaticTrace {
	return q.reg.StaticTraces.Get(staticTraceID)
}

// Program returns the program with the given id, or nil.
func (q *QueryBuilder) Program(programID ID) *StaticProgramContext {
	return q.reg.StaticProgramContexts.Get(programID)
}

// Programs returns every registered program in id order.
func (q *QueryBuilder) Programs() []*StaticProgramContext {
	return q.reg.StaticProgramContexts.All()
}

// StaticContextParent returns the enclosing static context of
// staticContextID, or nil at program level.
func (q *QueryBuilder) StaticContextParent(staticContextID ID) *StaticContext {
	sc := q.reg.StaticContexts.Get(staticContextID)
	if sc == nil || sc.ParentID == 0 {
		return nil
	}
	return q.reg.StaticContexts.Get(sc.ParentID)
}

// StaticContextsOfProgram returns the static contexts of one program.
func (q *QueryBuilder) StaticContextsOfProgram(programID ID) []*StaticContext {
	return collect(q.reg.StaticContexts, q.idx.StaticContextsByProgram.Get(programID))
}

// StaticTracesOfStaticContext returns the static traces declared directly
// in one static context.
func (q *QueryBuilder) StaticTracesOfStaticContext(staticContextID ID) []*StaticTrace {
	return collect(q.reg.StaticTraces, q.idx.StaticTracesByStaticContext.Get(staticContextID))
}

// =============================================================================
// Context tree
// =============================================================================

// RootContextID follows parent links from contextID up to its root. It
// returns 0 for an unknown context. A parent that has not arrived yet ends
// the walk at the last known context.
func (q *QueryBuilder) RootContextID(contextID ID) (ID, error) {
	chain, err := q.AncestorChain(contextID)
	if err != nil || len(chain) == 0 {
		return 0, err
	}
	return chain[len(chain)-1].ContextID, nil
}

// AncestorChain returns contextID's context followed by its parent, its
// grandparent and so on up to the root. It is empty for an unknown context.
func (q *QueryBuilder) AncestorChain(contextID ID) ([]*ExecutionContext, error) {
	var chain []*ExecutionContext
	seen := make(map[ID]bool)
	for id := contextID; id != 0; {
		c := q.reg.ExecutionContexts.Get(id)
		if c == nil {
			break
		}
		if seen[id] {
			return nil, fmt.Errorf("ancestor chain of %d: %w at %d", contextID, ErrCyclicParentChain, id)
		}
		seen[id] = true
		chain = append(chain, c)
		id = c.ParentContextID
	}
	return chain, nil
}

// AllRootContexts returns every context without a parent in id order.
func (q *QueryBuilder) AllRootContexts() []*ExecutionContext {
	return collect(q.reg.ExecutionContexts, q.idx.ContextsByParent.Get(0))
}

// FirstContextsInRuns returns the first context of every run in run order.
// A callback that starts a run is included even though it has a parent.
func (q *QueryBuilder) FirstContextsInRuns() []*ExecutionContext {
	runs := q.idx.ContextsByRun.Keys()
	out := make([]*ExecutionContext, 0, len(runs))
	for _, run := range runs {
		ids := q.idx.ContextsByRun.Get(run)
		if len(ids) == 0 {
			continue
		}
		if c := q.reg.ExecutionContexts.Get(ids[0]); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// ChildContexts returns the direct children of contextID in id order.
func (q *QueryBuilder) ChildContexts(contextID ID) []*ExecutionContext {
	if contextID == 0 {
		return nil
	}
	return collect(q.reg.ExecutionContexts, q.idx.ContextsByParent.Get(contextID))
}

// ContextsOfRun returns the contexts created during one run.
func (q *QueryBuilder) ContextsOfRun(runID ID) []*ExecutionContext {
	return collect(q.reg.ExecutionContexts, q.idx.ContextsByRun.Get(runID))
}

// ContextsOfStaticContext returns every activation of one static context.
func (q *QueryBuilder) ContextsOfStaticContext(staticContextID ID) []*ExecutionContext {
	return collect(q.reg.ExecutionContexts, q.idx.ContextsByStaticContext.Get(staticContextID))
}

// Runs returns the ids of all runs in ascending order.
func (q *QueryBuilder) Runs() []ID {
	return q.idx.ContextsByRun.Keys()
}

// collect resolves ids against c, skipping ids that are not stored.
func collect[T any](c *store.Collection[T], ids []ID) []*T {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		if rec := c.Get(id); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}
