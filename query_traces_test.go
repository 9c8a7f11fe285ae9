package tracegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/tracegraph/internal/store"
)

func TestQuery_TraceLinks(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	c := q.TraceContext(5)
	require.NotNil(t, c)
	assert.Equal(t, ID(4), c.ContextID)

	sc := q.TraceStaticContext(1)
	require.NotNil(t, sc)
	assert.Equal(t, "f", sc.DisplayName)

	assert.Equal(t, ID(1), q.TraceProgramID(5))
	assert.Equal(t, "/app/index.js", q.TraceFilePath(5))

	assert.Nil(t, q.TraceContext(99))
	assert.Nil(t, q.TraceStaticContext(99))
	assert.Zero(t, q.TraceProgramID(99))
	assert.Empty(t, q.TraceFilePath(99))
}

func TestQuery_TraceKind(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	tests := []struct {
		traceID  ID
		kind     store.TraceKind
		hasValue bool
	}{
		{1, store.TraceExpression, true},
		{3, store.TraceBeforeCallExpression, false},
		{5, store.TraceStatement, false},
		{6, store.TraceCallExpressionResult, true},
		{99, store.TraceKindNone, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, q.TraceKind(tt.traceID), "trace %d", tt.traceID)
		assert.Equal(t, tt.hasValue, q.DoesTraceHaveValue(tt.traceID), "trace %d", tt.traceID)
	}
}

func TestQuery_TraceValue(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	v, ok := q.TraceValue(1)
	require.True(t, ok)
	assert.EqualValues(t, 1, v)

	v, ok = q.TraceValue(2)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": "b"}, v)

	v, ok = q.TraceValue(3)
	require.True(t, ok)
	assert.Nil(t, v)

	_, ok = q.TraceValue(99)
	assert.False(t, ok)
}

func TestQuery_NextAndPreviousTrace(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	assert.Equal(t, ID(2), q.NextTrace(1).TraceID)
	assert.Nil(t, q.NextTrace(6))
	assert.Equal(t, ID(5), q.PreviousTrace(6).TraceID)
	assert.Nil(t, q.PreviousTrace(1))
	assert.Nil(t, q.PreviousTrace(0))
}

func TestQuery_TraceInContext(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	assert.Equal(t, ID(2), q.NextTraceInContext(1).TraceID)
	assert.Equal(t, ID(3), q.PreviousTraceInContext(4).TraceID)
	// past the end of ctx 2 stepping continues with the globally next trace
	assert.Equal(t, ID(5), q.NextTraceInContext(4).TraceID)
	assert.Equal(t, ID(4), q.PreviousTraceInContext(5).TraceID)
	assert.Nil(t, q.NextTraceInContext(6))
	assert.Nil(t, q.PreviousTraceInContext(1))
	assert.Nil(t, q.NextTraceInContext(99))
}

func TestQuery_FirstAndLastTraces(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	assert.Equal(t, ID(1), q.FirstTraceOfContext(2).TraceID)
	assert.Equal(t, ID(4), q.LastTraceOfContext(2).TraceID)
	assert.Nil(t, q.FirstTraceOfContext(1))
	assert.Nil(t, q.LastTraceOfContext(99))

	assert.Equal(t, ID(1), q.FirstTraceOfRun(1).TraceID)
	assert.Equal(t, ID(4), q.LastTraceOfRun(1).TraceID)
	assert.Equal(t, ID(5), q.FirstTraceOfRun(2).TraceID)
	assert.Equal(t, ID(6), q.LastTraceOfRun(2).TraceID)
	assert.Nil(t, q.FirstTraceOfRun(3))
}

func TestQuery_TraceCollections(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	assert.Equal(t, []ID{1, 2, 3, 4}, traceIDs(q.TracesOfContext(2)))
	assert.Equal(t, []ID{5, 6}, traceIDs(q.TracesOfRun(2)))
	assert.Equal(t, []ID{3, 6}, traceIDs(q.TracesOfStaticTrace(2)))
	assert.Equal(t, []ID{1, 2, 3, 4}, traceIDs(q.TracesOfChildContexts(1)))
	assert.Equal(t, []ID{5, 6}, traceIDs(q.TracesOfChildContexts(3)))
	assert.Len(t, q.TracesOfProgram(1), 6)
	assert.Empty(t, q.TracesOfChildContexts(0))
}

func TestQuery_Idempotent(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	first, err := q.AncestorChain(4)
	require.NoError(t, err)
	second, err := q.AncestorChain(4)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, q.FirstContextsInRuns(), q.FirstContextsInRuns())
}
