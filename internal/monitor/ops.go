package monitor

import (
	"fmt"

	"github.com/jward/tracegraph/internal/idgen"
	"github.com/jward/tracegraph/internal/store"
)

// pushImmediate enters a function or block. Interruptable functions
// additionally open a resume context for their first execution segment.
func (m *Monitor) pushImmediate(staticContextID store.ID, interruptable bool) store.ID {
	fn := m.newContext(store.ContextImmediate, staticContextID, m.stack.Peek(), 0)
	m.stack.push(frame{contextID: fn.ContextID, kind: store.ContextImmediate, interruptable: interruptable})
	if interruptable {
		m.openResume(fn.ContextID, staticContextID)
	}
	return fn.ContextID
}

func (m *Monitor) openResume(fnID, staticContextID store.ID) {
	r := m.newContext(store.ContextResume, staticContextID, fnID, 0)
	m.stack.push(frame{contextID: r.ContextID, kind: store.ContextResume, owner: fnID})
}

// pop removes id from the current stack. A resume frame owned by id may
// sit above it and is popped along. Any other frames above id are unwound
// as well, but the pop is still reported.
func (m *Monitor) pop(op string, id store.ID, kind store.ContextKind) error {
	st, ok := m.contexts[id]
	switch {
	case !ok:
		return m.protocolError(op, fmt.Errorf("%s %d: %w", op, id, ErrUnknownContext), "contextId", id)
	case st.popped:
		return m.protocolError(op, fmt.Errorf("%s %d: %w", op, id, ErrAlreadyPopped), "contextId", id)
	case st.kind != kind:
		return m.protocolError(op, fmt.Errorf("%s %d: %w: is %s", op, id, ErrWrongKind, st.kind), "contextId", id)
	}
	i := m.stack.indexOf(id)
	if i >= 0 && m.stack.suspended(i) {
		i = -1
	}
	if i < 0 {
		return m.protocolError(op, fmt.Errorf("%s %d: %w", op, id, ErrNotOnStack), "contextId", id)
	}

	// leaving a suspended segment detaches it
	m.stack.detach(i)

	var unbalanced []store.ID
	for _, f := range m.stack.truncate(i) {
		if f.contextID != id && !(f.kind == store.ContextResume && f.owner == id) {
			unbalanced = append(unbalanced, f.contextID)
		}
		m.markPopped(f.contextID)
	}
	if len(unbalanced) > 0 {
		return m.protocolError(op, fmt.Errorf("%s %d: %w: unwound %v", op, id, ErrUnbalancedPop, unbalanced), "contextId", id)
	}
	return nil
}

// scheduleCallback registers a callback that will run later. Its parent is
// the top of the stack now; it is parked on its own waiting stack and the
// current stack is left untouched.
func (m *Monitor) scheduleCallback(staticContextID, schedulerTraceID store.ID) (store.ID, error) {
	if schedulerTraceID > m.ids.Peek(idgen.Traces) {
		return 0, m.protocolError("scheduleCallback",
			fmt.Errorf("scheduleCallback: %w: %d", ErrUnknownTrace, schedulerTraceID), "schedulerTraceId", schedulerTraceID)
	}
	sc := m.newContext(store.ContextScheduled, staticContextID, m.stack.Peek(), schedulerTraceID)
	m.stack.waiting[sc.ContextID] = []frame{{contextID: sc.ContextID, kind: store.ContextScheduled}}
	return sc.ContextID, nil
}

// pushCallback starts executing a scheduled callback. The new context is
// parented to the scheduled context, whatever is on the stack right now.
// The scheduled waiting stack is kept, so a callback may fire repeatedly.
// A callback runs on a new tick, so pending await segments are detached
// first.
func (m *Monitor) pushCallback(scheduledID store.ID) (store.ID, error) {
	st, ok := m.contexts[scheduledID]
	if !ok || st.kind != store.ContextScheduled {
		return 0, m.protocolError("pushCallback",
			fmt.Errorf("pushCallback: %w: %d", ErrUnknownScheduled, scheduledID), "scheduledContextId", scheduledID)
	}
	m.stack.detach(-1)
	cb := m.newContext(store.ContextCallback, st.staticContextID, scheduledID, st.schedulerTrace)
	m.stack.push(frame{contextID: cb.ContextID, kind: store.ContextCallback})
	return cb.ContextID, nil
}

// awaitID pushes an await context and registers the enclosing segment as
// waiting: all frames from the innermost interruptable function upward, or
// the whole stack when no interruptable function is running. The awaited
// expression is evaluated after awaitId, so the segment stays on the
// current stack until a pop leaves it or a new tick starts.
func (m *Monitor) awaitID(staticContextID store.ID) (store.ID, error) {
	if m.stack.Depth() == 0 {
		return 0, m.protocolError("awaitId", fmt.Errorf("awaitId: %w", ErrEmptyStack), "staticContextId", staticContextID)
	}
	aw := m.newContext(store.ContextAwait, staticContextID, m.stack.Peek(), 0)
	m.stack.push(frame{contextID: aw.ContextID, kind: store.ContextAwait})

	floor := 0
	if n := len(m.stack.pending); n > 0 {
		floor = m.stack.pending[n-1].at + 1
	}
	from := floor
	for i := len(m.stack.current) - 1; i >= floor; i-- {
		if m.stack.current[i].interruptable {
			from = i
			break
		}
	}
	m.stack.suspend(aw.ContextID, from)
	return aw.ContextID, nil
}

// postAwait resumes the segment suspended at awaitID on top of the current
// stack and pops the await context. An interruptable function then gets a
// fresh resume context for the segment after the await.
func (m *Monitor) postAwait(awaitID store.ID) error {
	st, ok := m.contexts[awaitID]
	switch {
	case !ok:
		return m.protocolError("postAwait", fmt.Errorf("postAwait %d: %w", awaitID, ErrUnknownContext), "contextId", awaitID)
	case st.kind != store.ContextAwait:
		return m.protocolError("postAwait", fmt.Errorf("postAwait %d: %w: is %s", awaitID, ErrWrongKind, st.kind), "contextId", awaitID)
	}
	if _, waiting := m.stack.waiting[awaitID]; !waiting {
		return m.protocolError("postAwait", fmt.Errorf("postAwait %d: %w", awaitID, ErrNotWaiting), "contextId", awaitID)
	}

	m.stack.detach(-1)
	if m.stack.Depth() == 0 {
		m.runID = m.ids.Next(idgen.Runs)
	}
	base := m.stack.Depth()
	m.stack.resume(awaitID)
	fn := m.stack.current[base]

	for _, f := range m.stack.truncate(m.stack.indexOf(awaitID)) {
		m.markPopped(f.contextID)
	}

	if !fn.interruptable {
		return nil
	}
	if top, ok := m.stack.top(); ok && top.kind == store.ContextResume && top.owner == fn.contextID {
		m.stack.truncate(m.stack.Depth() - 1)
		m.markPopped(top.contextID)
	}
	m.openResume(fn.contextID, m.contexts[fn.contextID].staticContextID)
	return nil
}

// trace attaches a trace to the context on top of the stack. Non-primitive
// values are captured as a ValueRef.
func (m *Monitor) trace(staticTraceID store.ID, kind store.TraceKind, value any) (store.ID, error) {
	top := m.stack.Peek()
	if top == 0 {
		return 0, m.protocolError("trace", fmt.Errorf("trace: %w", ErrEmptyStack), "staticTraceId", staticTraceID)
	}
	t := store.Trace{
		TraceID:       m.ids.Next(idgen.Traces),
		ContextID:     top,
		StaticTraceID: staticTraceID,
		Kind:          kind,
		RunID:         m.runID,
		CreatedAt:     m.now(),
	}
	if store.IsPrimitive(value) {
		t.Value = value
	} else {
		encoded, err := store.EncodeValue(value)
		if err != nil {
			m.logger.Warn("monitor: value not captured", "traceId", t.TraceID, "err", err)
		} else {
			v := store.ValueRef{ValueID: m.ids.Next(idgen.Values), TraceID: t.TraceID, Serialized: encoded}
			t.ValueID = v.ValueID
			m.pending.Values = append(m.pending.Values, v)
		}
	}
	m.pending.Traces = append(m.pending.Traces, t)
	return t.TraceID, nil
}
