package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
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
	},
}

// testEvents runs main.js(ctx 1) -> f(ctx 2) with trace 1 = 7 in f and
// leaves both contexts popped.
func testEvents() []monitor.Event {
	prog := testProgram
	return []monitor.Event{
		{Op: monitor.OpAddProgram, Program: &prog},
		{Op: monitor.OpPushImmediate, ProgramID: 1, StaticContextID: 1},
		{Op: monitor.OpPushImmediate, ProgramID: 1, StaticContextID: 2},
		{Op: monitor.OpTrace, ProgramID: 1, StaticTraceID: 1, Value: 7},
		{Op: monitor.OpPopImmediate, ContextID: 2},
		{Op: monitor.OpPopImmediate, ContextID: 1},
	}
}

type fixture struct {
	engine *tracegraph.Engine
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	e := tracegraph.New()
	srv := httptest.NewServer(New(e).Handler())
	t.Cleanup(func() {
		srv.Close()
		e.Close()
	})
	return &fixture{engine: e, srv: srv}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/runtime"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg any) Outbound {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	var out Outbound
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func (f *fixture) get(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

// =============================================================================
// Runtime protocol
// =============================================================================

func TestRuntime_InitAndEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	conn := f.dial(t)

	ack := roundTrip(t, conn, Inbound{Type: MsgInit, Seq: 1})
	assert.Equal(t, MsgInitAck, ack.Type)
	assert.Equal(t, uint64(1), ack.Seq)
	assert.Equal(t, tracegraph.ID(1), ack.ApplicationID)
	assert.NotEmpty(t, ack.ApplicationUUID)

	out := roundTrip(t, conn, Inbound{Type: MsgEvents, Seq: 2, Events: testEvents()})
	assert.Equal(t, MsgAck, out.Type)
	assert.Empty(t, out.Error)
	require.Len(t, out.Results, 6)
	assert.Equal(t, tracegraph.ID(2), out.Results[2].ID)
	assert.Equal(t, tracegraph.ID(1), out.Results[3].ID)

	app := f.engine.Application(1)
	require.NotNil(t, app)
	assert.NotNil(t, app.Query().Context(2))
}

func TestRuntime_ReconnectKeepsApplication(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := roundTrip(t, f.dial(t), Inbound{Type: MsgInit})
	again := roundTrip(t, f.dial(t), Inbound{Type: MsgInit, ApplicationUUID: first.ApplicationUUID})

	assert.Equal(t, first.ApplicationID, again.ApplicationID)
	assert.Len(t, f.engine.Applications(), 1)

	bad := roundTrip(t, f.dial(t), Inbound{Type: MsgInit, ApplicationUUID: "not-a-uuid"})
	assert.Equal(t, MsgError, bad.Type)
}

func TestRuntime_DataBatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	conn := f.dial(t)
	roundTrip(t, conn, Inbound{Type: MsgInit})

	batch := &store.Batch{
		StaticProgramContexts: []store.StaticProgramContext{{ProgramID: 1, FilePath: "/app/a.js"}},
		StaticContexts: []store.StaticContext{
			{StaticContextID: 1, ProgramID: 1, Kind: store.StaticProgram},
		},
		ExecutionContexts: []store.ExecutionContext{
			{ContextID: 1, ContextKind: store.ContextImmediate, StaticContextID: 1, RunID: 1, CreatedAt: 1},
		},
	}
	out := roundTrip(t, conn, Inbound{Type: MsgData, Data: batch})
	assert.Equal(t, MsgAck, out.Type)
	assert.Empty(t, out.Error)

	dup := roundTrip(t, conn, Inbound{Type: MsgData, Data: batch})
	assert.Equal(t, MsgAck, dup.Type)
	assert.NotEmpty(t, dup.Error)

	empty := roundTrip(t, conn, Inbound{Type: MsgData})
	assert.NotEmpty(t, empty.Error)
}

func TestRuntime_ProtocolErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	conn := f.dial(t)

	out := roundTrip(t, conn, Inbound{Type: MsgEvents, Seq: 4, Events: testEvents()})
	assert.Equal(t, MsgError, out.Type)
	assert.Equal(t, uint64(4), out.Seq)
	assert.Contains(t, out.Error, "init required")

	out = roundTrip(t, conn, Inbound{Type: "bogus"})
	assert.Equal(t, MsgError, out.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, MsgError, out.Type)

	// the connection survives every rejected message
	ack := roundTrip(t, conn, Inbound{Type: MsgInit})
	assert.Equal(t, MsgInitAck, ack.Type)

	out = roundTrip(t, conn, Inbound{Type: MsgEvents, Events: []monitor.Event{
		{Op: monitor.OpPopImmediate, ContextID: 42},
	}})
	assert.Equal(t, MsgAck, out.Type)
	assert.NotEmpty(t, out.Error)
}

// =============================================================================
// Query API
// =============================================================================

func newRecordedFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	app, err := f.engine.NewApplication()
	require.NoError(t, err)
	_, err = app.ApplyEvents(testEvents())
	require.NoError(t, err)
	return f
}

func TestAPI_Applications(t *testing.T) {
	t.Parallel()
	f := newRecordedFixture(t)

	var apps []applicationView
	require.Equal(t, http.StatusOK, f.get(t, "/api/applications", &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, tracegraph.ID(1), apps[0].ID)
}

func TestAPI_Contexts(t *testing.T) {
	t.Parallel()
	f := newRecordedFixture(t)

	var ctx store.ExecutionContext
	require.Equal(t, http.StatusOK, f.get(t, "/api/applications/1/contexts/2", &ctx))
	assert.Equal(t, tracegraph.ID(1), ctx.ParentContextID)
	assert.True(t, ctx.Popped())

	var chain []store.ExecutionContext
	require.Equal(t, http.StatusOK, f.get(t, "/api/applications/1/contexts/2/ancestors", &chain))
	require.Len(t, chain, 2)
	assert.Equal(t, tracegraph.ID(1), chain[1].ContextID)

	var children []store.ExecutionContext
	require.Equal(t, http.StatusOK, f.get(t, "/api/applications/1/contexts/1/children", &children))
	require.Len(t, children, 1)
	assert.Equal(t, tracegraph.ID(2), children[0].ContextID)

	require.Equal(t, http.StatusOK, f.get(t, "/api/applications/1/contexts/2/children", &children))
	assert.Empty(t, children)

	var roots []store.ExecutionContext
	require.Equal(t, http.StatusOK, f.get(t, "/api/applications/1/roots", &roots))
	require.Len(t, roots, 1)
	assert.Equal(t, tracegraph.ID(1), roots[0].ContextID)
}

func TestAPI_Traces(t *testing.T) {
	t.Parallel()
	f := newRecordedFixture(t)

	var tr map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/applications/1/traces/1", &tr))
	assert.Equal(t, "Expression", tr["kind"])
	assert.Equal(t, float64(7), tr["value"])
	assert.Equal(t, true, tr["hasValue"])
	assert.Equal(t, "/app/main.js", tr["filePath"])

	var traces []map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/applications/1/contexts/2/traces", &traces))
	assert.Len(t, traces, 1)
	require.Equal(t, http.StatusOK, f.get(t, "/api/applications/1/runs/1/traces", &traces))
	assert.Len(t, traces, 1)
}

func TestAPI_Waiting(t *testing.T) {
	t.Parallel()
	f := newRecordedFixture(t)

	var stack stackView
	require.Equal(t, http.StatusOK, f.get(t, "/api/applications/1/waiting", &stack))
	assert.Empty(t, stack.Current)
	assert.Empty(t, stack.Waiting)
}

func TestAPI_NotFound(t *testing.T) {
	t.Parallel()
	f := newRecordedFixture(t)

	paths := []string{
		"/api/applications/9/roots",
		"/api/applications/1/contexts/99",
		"/api/applications/1/contexts/99/ancestors",
		"/api/applications/1/contexts/99/children",
		"/api/applications/1/contexts/99/traces",
		"/api/applications/1/traces/99",
		"/api/applications/1/runs/99/traces",
		"/api/applications/x/roots",
		"/nope",
	}
	for _, p := range paths {
		var e errorView
		assert.Equal(t, http.StatusNotFound, f.get(t, p, &e), p)
		assert.NotEmpty(t, e.Error, p)
	}
}

// =============================================================================
// Metrics and lifecycle
// =============================================================================

func TestMetrics_CountsMessages(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	conn := f.dial(t)
	roundTrip(t, conn, Inbound{Type: MsgInit})
	roundTrip(t, conn, Inbound{Type: MsgEvents, Events: testEvents()})
	roundTrip(t, conn, Inbound{Type: "bogus"})

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `tracegraph_runtime_messages_total{type="init"} 1`)
	assert.Contains(t, text, `tracegraph_runtime_messages_total{type="events"} 1`)
	assert.Contains(t, text, `tracegraph_runtime_protocol_errors_total{type="unknown"} 1`)
	assert.Contains(t, text, "tracegraph_runtime_connections 1")
	assert.Contains(t, text, "tracegraph_applications 1")
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()
	e := tracegraph.New()
	t.Cleanup(func() { e.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(e, WithShutdownTimeout(time.Second)).Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/ws/runtime"
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
