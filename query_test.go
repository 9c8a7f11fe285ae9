package tracegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/tracegraph/internal/monitor"
	"github.com/jward/tracegraph/internal/store"
)

var sampleProgram = monitor.ProgramData{
	FilePath: "/app/index.js",
	StaticContexts: []store.StaticContext{
		{StaticContextID: 1, Kind: store.StaticProgram, DisplayName: "index.js"},
		{StaticContextID: 2, ParentID: 1, Kind: store.StaticFunction, DisplayName: "f"},
		{StaticContextID: 3, ParentID: 2, Kind: store.StaticFunction, DisplayName: "cb"},
	},
	StaticTraces: []store.StaticTrace{
		{StaticTraceID: 1, StaticContextID: 2, Kind: store.TraceExpression, DisplayName: "x"},
		{StaticTraceID: 2, StaticContextID: 2, Kind: store.TraceBeforeCallExpression, DisplayName: "setTimeout(cb)"},
		{StaticTraceID: 3, StaticContextID: 3, Kind: store.TraceStatement, DisplayName: "done()"},
	},
}

// newSampleApp records two runs:
//
//	run 1: index.js(ctx 1) -> f(ctx 2), traces 1-4 in f; f schedules cb (ctx 3)
//	run 2: cb(ctx 4) under the scheduled ctx 3, traces 5-6
//
// Trace 2 captures a map, trace 3 schedules the callback and trace 6
// overrides its static kind.
func newSampleApp(t *testing.T) *Application {
	t.Helper()
	var clock int64
	e := New(WithClock(func() int64 { clock++; return clock }))
	t.Cleanup(func() { e.Close() })
	app, err := e.NewApplication()
	require.NoError(t, err)

	err = app.Update(func(m *monitor.Monitor) error {
		p, err := m.AddProgram(sampleProgram)
		require.NoError(t, err)
		pid := p.ID

		root, err := m.PushImmediate(pid, 1)
		require.NoError(t, err)
		f, err := m.PushImmediate(pid, 2)
		require.NoError(t, err)
		_, err = m.TraceValue(pid, 1, 1)
		require.NoError(t, err)
		_, err = m.TraceValue(pid, 1, map[string]any{"a": "b"})
		require.NoError(t, err)
		call, err := m.TraceValue(pid, 2, nil)
		require.NoError(t, err)
		scheduled, err := m.ScheduleCallback(pid, 3, call)
		require.NoError(t, err)
		_, err = m.TraceValue(pid, 1, "after")
		require.NoError(t, err)
		require.NoError(t, m.PopImmediate(f))
		require.NoError(t, m.PopImmediate(root))

		cb, err := m.PushCallback(scheduled)
		require.NoError(t, err)
		_, err = m.TraceValue(pid, 3, nil)
		require.NoError(t, err)
		_, err = m.TraceKind(pid, 2, store.TraceCallExpressionResult, 5)
		require.NoError(t, err)
		return m.PopCallback(cb)
	})
	require.NoError(t, err)
	return app
}

func traceIDs(traces []*Trace) []ID {
	ids := make([]ID, 0, len(traces))
	for _, t := range traces {
		ids = append(ids, t.TraceID)
	}
	return ids
}

func contextIDs(contexts []*ExecutionContext) []ID {
	ids := make([]ID, 0, len(contexts))
	for _, c := range contexts {
		ids = append(ids, c.ContextID)
	}
	return ids
}

// =============================================================================
// Context tree
// =============================================================================

func TestQuery_RootContextID(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	tests := []struct {
		name      string
		contextID ID
		want      ID
	}{
		{"root itself", 1, 1},
		{"child", 2, 1},
		{"scheduled", 3, 1},
		{"callback reaches scheduling root", 4, 1},
		{"unknown", 99, 0},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.RootContextID(tt.contextID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuery_AncestorChain(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	chain, err := q.AncestorChain(4)
	require.NoError(t, err)
	assert.Equal(t, []ID{4, 3, 2, 1}, contextIDs(chain))

	chain, err = q.AncestorChain(42)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestQuery_AncestorChainDetectsCycles(t *testing.T) {
	t.Parallel()
	// A registry only accepts parents with smaller ids, so the cycle has
	// to be planted behind its back.
	reg := store.NewRegistry()
	_, err := reg.AddData(&store.Batch{ExecutionContexts: []store.ExecutionContext{
		{ContextID: 1, ContextKind: store.ContextImmediate, StaticContextID: 1},
		{ContextID: 2, ContextKind: store.ContextImmediate, StaticContextID: 1, ParentContextID: 1},
	}})
	require.NoError(t, err)
	reg.ExecutionContexts.Get(1).ParentContextID = 2

	q := &QueryBuilder{reg: reg}
	_, err = q.AncestorChain(2)
	require.ErrorIs(t, err, ErrCyclicParentChain)
	_, err = q.RootContextID(1)
	require.ErrorIs(t, err, ErrCyclicParentChain)
}

func TestQuery_RootsAndRuns(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	assert.Equal(t, []ID{1}, contextIDs(q.AllRootContexts()))
	// The callback starts run 2 but has a parent, so it is not a root.
	assert.Equal(t, []ID{1, 4}, contextIDs(q.FirstContextsInRuns()))
	assert.Equal(t, []ID{1, 2}, q.Runs())
	assert.Equal(t, []ID{1, 2, 3}, contextIDs(q.ContextsOfRun(1)))
}

func TestQuery_ChildContexts(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	assert.Equal(t, []ID{2}, contextIDs(q.ChildContexts(1)))
	assert.Equal(t, []ID{3}, contextIDs(q.ChildContexts(2)))
	assert.Equal(t, []ID{4}, contextIDs(q.ChildContexts(3)))
	assert.Empty(t, q.ChildContexts(4))
	assert.Empty(t, q.ChildContexts(0))
	assert.Empty(t, q.ChildContexts(99))
}

func TestQuery_ContextLookups(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	c := q.Context(4)
	require.NotNil(t, c)
	assert.Equal(t, store.ContextCallback, c.ContextKind)
	assert.Equal(t, ID(3), c.SchedulerTraceID)
	assert.Nil(t, q.Context(99))

	assert.Equal(t, []ID{3, 4}, contextIDs(q.ContextsOfStaticContext(3)))
}

func TestQuery_StaticContextParent(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	parent := q.StaticContextParent(3)
	require.NotNil(t, parent)
	assert.Equal(t, "f", parent.DisplayName)
	assert.Nil(t, q.StaticContextParent(1))
	assert.Nil(t, q.StaticContextParent(99))
	assert.Len(t, q.StaticContextsOfProgram(1), 3)
	assert.Len(t, q.StaticTracesOfStaticContext(2), 2)
}
