package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/tracegraph"
	"github.com/jward/tracegraph/internal/monitor"
	"github.com/jward/tracegraph/internal/store"
)

var testProgram = monitor.ProgramData{
	FilePath: "/app/main.js",
	StaticContexts: []store.StaticContext{
		{StaticContextID: 1, Kind: store.StaticProgram, DisplayName: "main.js"},
		{StaticContextID: 2, ParentID: 1, Kind: store.StaticFunction, DisplayName: "f"},
	},
	StaticTraces: []store.StaticTrace{
		{StaticTraceID: 1, StaticContextID: 2, Kind: store.TraceExpression, DisplayName: "x"},
		{StaticTraceID: 2, StaticContextID: 2, Kind: store.TraceStatement, DisplayName: "done()"},
	},
}

// newTestApp records main.js(ctx 1) -> f(ctx 2) with traces 1-3 in f.
// Trace 2 captures a map.
func newTestApp(t *testing.T) *tracegraph.Application {
	t.Helper()
	e := tracegraph.New()
	t.Cleanup(func() { e.Close() })
	app, err := e.NewApplication()
	require.NoError(t, err)

	prog := testProgram
	_, err = app.ApplyEvents([]monitor.Event{
		{Op: monitor.OpAddProgram, Program: &prog},
		{Op: monitor.OpPushImmediate, ProgramID: 1, StaticContextID: 1},
		{Op: monitor.OpPushImmediate, ProgramID: 1, StaticContextID: 2},
		{Op: monitor.OpTrace, ProgramID: 1, StaticTraceID: 1, Value: 7},
		{Op: monitor.OpTrace, ProgramID: 1, StaticTraceID: 1, Value: map[string]any{"k": "v"}},
		{Op: monitor.OpTrace, ProgramID: 1, StaticTraceID: 2},
		{Op: monitor.OpPopImmediate, ContextID: 2},
		{Op: monitor.OpPopImmediate, ContextID: 1},
	})
	require.NoError(t, err)
	return app
}

func eval(t *testing.T, rt *Runtime, src string) any {
	t.Helper()
	got, err := rt.Eval(context.Background(), src, nil)
	require.NoError(t, err)
	return got
}

// =============================================================================
// Host functions
// =============================================================================

func TestHostFuncs_Context(t *testing.T) {
	t.Parallel()
	rt := New(newTestApp(t).Query())

	assert.Equal(t, int64(1), eval(t, rt, `context(2)["parentContextId"]`))
	assert.Equal(t, "immediate", eval(t, rt, `context(2)["contextKind"]`))
	assert.Equal(t, int64(1), eval(t, rt, `context(2)["stackDepth"]`))
	assert.Nil(t, eval(t, rt, `context(99)`))
}

func TestHostFuncs_Trace(t *testing.T) {
	t.Parallel()
	rt := New(newTestApp(t).Query())

	assert.Equal(t, int64(7), eval(t, rt, `trace(1)["value"]`))
	assert.Equal(t, "Expression", eval(t, rt, `trace(1)["kind"]`))
	assert.Equal(t, true, eval(t, rt, `trace(1)["hasValue"]`))
	assert.Equal(t, false, eval(t, rt, `trace(3)["hasValue"]`))
	assert.Nil(t, eval(t, rt, `trace(99)`))
}

func TestHostFuncs_ValueOf(t *testing.T) {
	t.Parallel()
	rt := New(newTestApp(t).Query())

	assert.Equal(t, "v", eval(t, rt, `value_of(2)["k"]`))
	assert.Equal(t, int64(7), eval(t, rt, `value_of(1)`))
	assert.Nil(t, eval(t, rt, `value_of(3)`))
}

func TestHostFuncs_Collections(t *testing.T) {
	t.Parallel()
	rt := New(newTestApp(t).Query())

	assert.Equal(t, int64(3), eval(t, rt, `len(traces_of_context(2))`))
	assert.Equal(t, int64(0), eval(t, rt, `len(traces_of_context(1))`))
	assert.Equal(t, int64(3), eval(t, rt, `len(traces_of_run(1))`))
	assert.Equal(t, int64(2), eval(t, rt, `children_of(1)[0]["contextId"]`))
	assert.Equal(t, int64(1), eval(t, rt, `root_of(2)`))
	assert.Equal(t, int64(0), eval(t, rt, `root_of(99)`))
	assert.Equal(t, int64(1), eval(t, rt, `len(roots())`))
	assert.Equal(t, int64(1), eval(t, rt, `roots()[0]["contextId"]`))
}

func TestHostFuncs_BadArguments(t *testing.T) {
	t.Parallel()
	rt := New(newTestApp(t).Query())
	ctx := context.Background()

	for _, src := range []string{`context("x")`, `trace(-1)`, `context(1, 2)`, `roots(1)`} {
		_, err := rt.Eval(ctx, src, nil)
		assert.Error(t, err, src)
	}
}

func TestHostFuncs_ExtraGlobals(t *testing.T) {
	t.Parallel()
	rt := New(newTestApp(t).Query())

	got, err := rt.Eval(context.Background(), `context(target)["contextId"]`, map[string]any{"target": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestToObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{true, true},
		{"s", "s"},
		{1.5, 1.5},
		{int8(-3), int64(-3)},
		{uint16(9), int64(9)},
		{[]any{1, "a"}, []any{int64(1), "a"}},
		{map[string]any{"n": 2}, map[string]any{"n": int64(2)}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toObject(tt.in).Interface(), "%v", tt.in)
	}
}

// =============================================================================
// Loading and imports
// =============================================================================

func TestRunScript_FromFS(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"depth.risor": &fstest.MapFile{Data: []byte(`context(2)["stackDepth"] + 1`)},
	}
	rt := New(newTestApp(t).Query(), WithFS(fsys))

	got, err := rt.RunScript(context.Background(), "/depth.risor", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestRunScript_MissingFile(t *testing.T) {
	t.Parallel()
	rt := New(nil, WithScriptsDir(t.TempDir()))

	_, err := rt.RunScript(context.Background(), "missing.risor", nil)
	require.Error(t, err)
}

func TestImport_LocalImporterSeesHostGlobals(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helpers.risor"), []byte(`
func depth_of(id) {
	log.Info("depth_of")
	return context(id)["stackDepth"]
}
`), 0o644))
	rt := New(newTestApp(t).Query(), WithScriptsDir(dir))

	got := eval(t, rt, `
import helpers
helpers.depth_of(2)
`)
	assert.Equal(t, int64(1), got)
}

// =============================================================================
// Script-keyed indexes
// =============================================================================

func TestTraceIndex_KeysByScript(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	idx := NewTraceIndex("traces.byKind", `trace["kind"]`, nil)
	require.NoError(t, app.RegisterIndex(idx))

	assert.Equal(t, []string{"Expression", "Statement"}, idx.Keys())
	assert.Equal(t, []store.ID{1, 2}, idx.Get("Expression"))
	assert.Equal(t, []store.ID{3}, idx.Get("Statement"))
}

func TestTraceIndex_NilSkipsAndErrorsAreSkipped(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	idx := NewTraceIndex("traces.small", `trace["value"] == 7 ? "seven" : nil`, nil)
	require.NoError(t, app.RegisterIndex(idx))
	assert.Equal(t, []string{"seven"}, idx.Keys())

	broken := NewTraceIndex("traces.broken", `trace["nope"]()`, nil)
	require.NoError(t, app.RegisterIndex(broken))
	assert.Zero(t, broken.Len())
}

func TestContextIndex_UpdatesIncrementally(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	idx := NewContextIndex("contexts.byDepth", `context["stackDepth"]`, nil)
	require.NoError(t, app.RegisterIndex(idx))
	assert.Equal(t, []store.ID{2}, idx.Get("1"))

	_, err := app.ApplyEvents([]monitor.Event{
		{Op: monitor.OpPushImmediate, ProgramID: 1, StaticContextID: 1},
		{Op: monitor.OpPopImmediate, ContextID: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []store.ID{1, 3}, idx.Get("0"))
}
