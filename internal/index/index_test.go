package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/tracegraph/internal/store"
)

// twoRuns: run 1 is main(1) -> f(2) -> scheduled(3); run 2 is the
// callback(4) of 3. Traces 1..5 are spread over the contexts.
func twoRuns() (*store.Batch, *store.Batch) {
	static := &store.Batch{
		StaticProgramContexts: []store.StaticProgramContext{{ProgramID: 1, FilePath: "/a.js"}},
		StaticContexts: []store.StaticContext{
			{StaticContextID: 1, ProgramID: 1, Kind: store.StaticProgram},
			{StaticContextID: 2, ProgramID: 1, ParentID: 1, Kind: store.StaticFunction},
		},
		StaticTraces: []store.StaticTrace{
			{StaticTraceID: 1, StaticContextID: 1, Kind: store.TraceStatement},
			{StaticTraceID: 2, StaticContextID: 2, Kind: store.TraceExpression},
		},
		ExecutionContexts: []store.ExecutionContext{
			{ContextID: 1, ContextKind: store.ContextImmediate, StaticContextID: 1, RunID: 1},
			{ContextID: 2, ContextKind: store.ContextImmediate, StaticContextID: 2, ParentContextID: 1, RunID: 1, StackDepth: 1},
		},
		Traces: []store.Trace{
			{TraceID: 1, ContextID: 1, StaticTraceID: 1, RunID: 1},
			{TraceID: 2, ContextID: 2, StaticTraceID: 2, RunID: 1},
			{TraceID: 3, ContextID: 2, StaticTraceID: 2, RunID: 1},
		},
	}
	dynamic := &store.Batch{
		ExecutionContexts: []store.ExecutionContext{
			{ContextID: 3, ContextKind: store.ContextScheduled, StaticContextID: 2, ParentContextID: 2, RunID: 1, StackDepth: 2},
			{ContextID: 4, ContextKind: store.ContextCallback, StaticContextID: 2, ParentContextID: 3, RunID: 2},
		},
		Traces: []store.Trace{
			{TraceID: 4, ContextID: 4, StaticTraceID: 2, RunID: 2},
			{TraceID: 5, ContextID: 4, StaticTraceID: 2, RunID: 2},
		},
	}
	return static, dynamic
}

func snapshotOf(b *Builtins) map[string]map[store.ID][]store.ID {
	out := make(map[string]map[store.ID][]store.ID)
	add := func(name string, k interface {
		Keys() []store.ID
		Get(store.ID) []store.ID
	}) {
		m := make(map[store.ID][]store.ID)
		for _, key := range k.Keys() {
			m[key] = k.Get(key)
		}
		out[name] = m
	}
	add(TracesByContext, b.TracesByContext)
	add(TracesByStaticTrace, b.TracesByStaticTrace)
	add(TracesByRun, b.TracesByRun)
	add(TracesByParentContext, b.TracesByParentContext)
	add(TracesByProgram, b.TracesByProgram)
	add(ContextsByParent, b.ContextsByParent)
	add(ContextsByRun, b.ContextsByRun)
	add(ContextsByStaticContext, b.ContextsByStaticContext)
	add(StaticTracesByStaticContext, b.StaticTracesByStaticContext)
	add(StaticContextsByProgram, b.StaticContextsByProgram)
	return out
}

func TestBuiltins_IncrementalUpdates(t *testing.T) {
	t.Parallel()
	reg := store.NewRegistry()
	e := NewEngine(reg)
	b := NewBuiltins()
	require.NoError(t, b.RegisterAll(e))

	static, dynamic := twoRuns()
	_, err := reg.AddData(static)
	require.NoError(t, err)
	assert.Equal(t, []store.ID{2, 3}, b.TracesByContext.Get(2))
	assert.Empty(t, b.TracesByContext.Get(4))

	_, err = reg.AddData(dynamic)
	require.NoError(t, err)

	assert.Equal(t, []store.ID{4, 5}, b.TracesByContext.Get(4))
	assert.Equal(t, []store.ID{2, 3, 4, 5}, b.TracesByStaticTrace.Get(2))
	assert.Equal(t, []store.ID{1, 2, 3}, b.TracesByRun.Get(1))
	assert.Equal(t, []store.ID{4, 5}, b.TracesByRun.Get(2))
	assert.Equal(t, []store.ID{1}, b.TracesByParentContext.Get(0))
	assert.Equal(t, []store.ID{2, 3}, b.TracesByParentContext.Get(1))
	assert.Equal(t, []store.ID{4, 5}, b.TracesByParentContext.Get(3))
	assert.Equal(t, []store.ID{1, 2, 3, 4, 5}, b.TracesByProgram.Get(1))

	assert.Equal(t, []store.ID{1}, b.ContextsByParent.Get(0))
	assert.Equal(t, []store.ID{3}, b.ContextsByParent.Get(2))
	assert.Equal(t, []store.ID{4}, b.ContextsByParent.Get(3))
	assert.Equal(t, []store.ID{1, 2, 3}, b.ContextsByRun.Get(1))
	assert.Equal(t, []store.ID{2, 3, 4}, b.ContextsByStaticContext.Get(2))
	assert.Equal(t, []store.ID{1, 2}, b.ContextsByRun.Keys())

	assert.Equal(t, []store.ID{2}, b.StaticTracesByStaticContext.Get(2))
	assert.Equal(t, []store.ID{1, 2}, b.StaticContextsByProgram.Get(1))
}

func TestBuiltins_BackfillMatchesIncremental(t *testing.T) {
	t.Parallel()
	static, dynamic := twoRuns()

	incremental := NewBuiltins()
	reg1 := store.NewRegistry()
	require.NoError(t, incremental.RegisterAll(NewEngine(reg1)))
	_, err := reg1.AddData(static)
	require.NoError(t, err)
	_, err = reg1.AddData(dynamic)
	require.NoError(t, err)

	late := NewBuiltins()
	reg2 := store.NewRegistry()
	e2 := NewEngine(reg2)
	_, err = reg2.AddData(static)
	require.NoError(t, err)
	// half of the indexes arrive between the batches
	for _, idx := range late.All()[:5] {
		require.NoError(t, e2.Register(idx))
	}
	_, err = reg2.AddData(dynamic)
	require.NoError(t, err)
	for _, idx := range late.All()[5:] {
		require.NoError(t, e2.Register(idx))
	}

	assert.Equal(t, snapshotOf(incremental), snapshotOf(late))
}

func TestEngine_RegisterRejectsUnknownDependency(t *testing.T) {
	t.Parallel()
	e := NewEngine(store.NewRegistry())

	bad := NewKeyed("traces.bySymbol", TraceSource,
		func(_ *store.Registry, t *store.Trace) (store.ID, bool) { return t.TraceID, true },
		store.CollectionName("symbols"))
	err := e.Register(bad)
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.Nil(t, e.Get("traces.bySymbol"))
}

func TestEngine_RegisterRejectsDuplicateName(t *testing.T) {
	t.Parallel()
	e := NewEngine(store.NewRegistry())
	require.NoError(t, e.Register(NewBuiltins().TracesByRun))
	assert.ErrorIs(t, e.Register(NewBuiltins().TracesByRun), ErrDuplicateIndex)
	assert.Equal(t, []string{TracesByRun}, e.Names())
}

// countingIndex records how often it was notified.
type countingIndex struct {
	deps  []store.CollectionName
	calls int
}

func (c *countingIndex) Name() string                             { return "counting" }
func (c *countingIndex) Dependencies() []store.CollectionName     { return c.deps }
func (c *countingIndex) Backfill(*store.Registry)                 {}
func (c *countingIndex) AddEntries(*store.Registry, *store.Batch) { c.calls++ }

func TestEngine_OnlyNotifiesDependents(t *testing.T) {
	t.Parallel()
	reg := store.NewRegistry()
	e := NewEngine(reg)
	idx := &countingIndex{deps: []store.CollectionName{store.Values}}
	require.NoError(t, e.Register(idx))

	static, _ := twoRuns()
	_, err := reg.AddData(static)
	require.NoError(t, err)
	assert.Zero(t, idx.calls)

	_, err = reg.AddData(&store.Batch{Values: []store.ValueRef{{ValueID: 1, TraceID: 2, Value: "v"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.calls)
}

func TestKeyed_SkipsUnkeyedRecords(t *testing.T) {
	t.Parallel()
	reg := store.NewRegistry()
	e := NewEngine(reg)
	b := NewBuiltins()
	require.NoError(t, e.Register(b.TracesByParentContext))

	_, err := reg.AddData(&store.Batch{Traces: []store.Trace{{TraceID: 1, ContextID: 9, RunID: 1}}})
	require.NoError(t, err)
	assert.Zero(t, b.TracesByParentContext.Len(), "trace of an unknown context has no parent key")
}

func TestKeyed_TraceBeforeItsContext(t *testing.T) {
	t.Parallel()
	static := &store.Batch{
		StaticProgramContexts: []store.StaticProgramContext{{ProgramID: 1, FilePath: "/a.js"}},
		StaticContexts:        []store.StaticContext{{StaticContextID: 1, ProgramID: 1, Kind: store.StaticFunction}},
		StaticTraces:          []store.StaticTrace{{StaticTraceID: 1, StaticContextID: 1, Kind: store.TraceExpression}},
		ExecutionContexts:     []store.ExecutionContext{{ContextID: 1, ContextKind: store.ContextImmediate, StaticContextID: 1, RunID: 1}},
	}
	early := &store.Batch{Traces: []store.Trace{{TraceID: 1, ContextID: 2, StaticTraceID: 1, RunID: 1}}}
	context := &store.Batch{
		ExecutionContexts: []store.ExecutionContext{
			{ContextID: 2, ContextKind: store.ContextImmediate, StaticContextID: 1, ParentContextID: 1, RunID: 1, StackDepth: 1},
		},
		Traces: []store.Trace{{TraceID: 2, ContextID: 1, StaticTraceID: 1, RunID: 1}},
	}
	later := &store.Batch{Traces: []store.Trace{{TraceID: 3, ContextID: 2, StaticTraceID: 1, RunID: 1}}}

	incremental := NewBuiltins()
	reg1 := store.NewRegistry()
	require.NoError(t, incremental.RegisterAll(NewEngine(reg1)))
	for _, b := range []*store.Batch{static, early, context, later} {
		_, err := reg1.AddData(b)
		require.NoError(t, err)
	}
	assert.Equal(t, []store.ID{1, 3}, incremental.TracesByParentContext.Get(1))
	assert.Equal(t, []store.ID{2}, incremental.TracesByParentContext.Get(0))

	backfilled := NewBuiltins()
	reg2 := store.NewRegistry()
	for _, b := range []*store.Batch{static, early, context, later} {
		_, err := reg2.AddData(b)
		require.NoError(t, err)
	}
	require.NoError(t, backfilled.RegisterAll(NewEngine(reg2)))

	assert.Equal(t, snapshotOf(backfilled), snapshotOf(incremental))
}

func TestKeyed_RetriedRecordKeepsIDOrder(t *testing.T) {
	t.Parallel()
	reg := store.NewRegistry()
	b := NewBuiltins()
	require.NoError(t, b.RegisterAll(NewEngine(reg)))

	_, err := reg.AddData(&store.Batch{
		StaticProgramContexts: []store.StaticProgramContext{{ProgramID: 1, FilePath: "/a.js"}},
		StaticContexts:        []store.StaticContext{{StaticContextID: 1, ProgramID: 1, Kind: store.StaticFunction}},
		StaticTraces:          []store.StaticTrace{{StaticTraceID: 1, StaticContextID: 1, Kind: store.TraceExpression}},
		Traces:                []store.Trace{{TraceID: 1, ContextID: 2, StaticTraceID: 1, RunID: 1}},
	})
	require.NoError(t, err)
	// trace 2 is keyed immediately, trace 1 only once context 2 arrives
	_, err = reg.AddData(&store.Batch{
		ExecutionContexts: []store.ExecutionContext{
			{ContextID: 1, ContextKind: store.ContextImmediate, StaticContextID: 1, RunID: 1},
		},
		Traces: []store.Trace{{TraceID: 2, ContextID: 1, StaticTraceID: 1, RunID: 1}},
	})
	require.NoError(t, err)
	_, err = reg.AddData(&store.Batch{
		ExecutionContexts: []store.ExecutionContext{
			{ContextID: 2, ContextKind: store.ContextImmediate, StaticContextID: 1, RunID: 1},
		},
		Traces: []store.Trace{{TraceID: 3, ContextID: 2, StaticTraceID: 1, RunID: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, []store.ID{1, 2, 3}, b.TracesByParentContext.Get(0))
}
