package tracegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/tracegraph/internal/store"
)

func TestGroupTracesByKind(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	groups, err := q.GroupTracesByKind([]*StaticTrace{q.StaticTrace(1), q.StaticTrace(2), q.StaticTrace(3)})
	require.NoError(t, err)

	kinds := make([]store.TraceKind, 0, len(groups))
	for _, g := range groups {
		kinds = append(kinds, g.Kind)
	}
	// Static trace 2 is split into its static kind and the override.
	assert.Equal(t, []store.TraceKind{
		store.TraceBeforeCallExpression,
		store.TraceStatement,
		store.TraceExpression,
		store.TraceCallExpressionResult,
	}, kinds)

	byKind := make(map[store.TraceKind]KindGroup)
	for _, g := range groups {
		byKind[g.Kind] = g
	}
	expr := byKind[store.TraceExpression]
	require.Len(t, expr.Groups, 1)
	assert.Equal(t, []ID{1, 2, 4}, traceIDs(expr.Groups[0].Traces))
	assert.Equal(t, []ID{3}, traceIDs(byKind[store.TraceBeforeCallExpression].Groups[0].Traces))
	assert.Equal(t, []ID{6}, traceIDs(byKind[store.TraceCallExpressionResult].Groups[0].Traces))
}

func TestGroupTracesByKind_SkipsUnexecutedAndRejectsNil(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	groups, err := q.GroupTracesByKind([]*StaticTrace{{StaticTraceID: 99, Kind: store.TraceExpression}})
	require.NoError(t, err)
	assert.Empty(t, groups)

	_, err = q.GroupTracesByKind([]*StaticTrace{q.StaticTrace(1), nil})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestGroupTraces(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()
	all := []*Trace{q.Trace(1), q.Trace(2), q.Trace(3), q.Trace(4), q.Trace(5), q.Trace(6)}

	tests := []struct {
		mode GroupMode
		keys []ID
		ids  [][]ID
	}{
		{Ungrouped, []ID{0}, [][]ID{{1, 2, 3, 4, 5, 6}}},
		{GroupByRun, []ID{1, 2}, [][]ID{{1, 2, 3, 4}, {5, 6}}},
		{GroupByContext, []ID{2, 4}, [][]ID{{1, 2, 3, 4}, {5, 6}}},
		{GroupByParentContext, []ID{1, 3}, [][]ID{{1, 2, 3, 4}, {5, 6}}},
		{GroupByCallback, []ID{0, 3}, [][]ID{{1, 2, 3, 4}, {5, 6}}},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			groups, err := q.GroupTraces(all, tt.mode)
			require.NoError(t, err)
			require.Len(t, groups, len(tt.keys))
			for i, g := range groups {
				assert.Equal(t, tt.keys[i], g.Key)
				assert.Equal(t, tt.ids[i], traceIDs(g.Traces))
			}
		})
	}
}

func TestGroupTraces_Errors(t *testing.T) {
	t.Parallel()
	q := newSampleApp(t).Query()

	_, err := q.GroupTraces([]*Trace{q.Trace(1)}, GroupMode(42))
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = q.GroupTraces([]*Trace{nil}, GroupByRun)
	require.ErrorIs(t, err, ErrInvalidInput)

	groups, err := q.GroupTraces(nil, GroupByRun)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestParseGroupMode(t *testing.T) {
	t.Parallel()
	for _, m := range []GroupMode{Ungrouped, GroupByRun, GroupByContext, GroupByParentContext, GroupByCallback} {
		got, err := ParseGroupMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseGroupMode("bogus")
	require.ErrorIs(t, err, ErrInvalidInput)
}
