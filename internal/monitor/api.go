package monitor

import "github.com/jward/tracegraph/internal/store"

// The methods below form the instrumentation event API. Static ids are
// local to the given program. Every method returns the protocol error it
// logged, if any; on error the stack machine is unchanged.

// PushImmediate enters a function or block and returns its context id.
func (m *Monitor) PushImmediate(programID, staticContextID store.ID) (store.ID, error) {
	sc, err := m.resolveStaticContext("pushImmediate", programID, staticContextID)
	if err != nil {
		return 0, err
	}
	id := m.pushImmediate(sc.StaticContextID, sc.IsInterruptable)
	return id, m.maybeFlush()
}

// PopImmediate leaves the function or block contextID.
func (m *Monitor) PopImmediate(contextID store.ID) error {
	if err := m.pop("popImmediate", contextID, store.ContextImmediate); err != nil {
		// an unwinding pop still changed the stack
		if flushErr := m.maybeFlush(); flushErr != nil {
			return flushErr
		}
		return err
	}
	return m.maybeFlush()
}

// ScheduleCallback registers a callback for later execution and returns
// the scheduled context id. schedulerTraceID is the trace that scheduled
// it, or 0 when unknown.
func (m *Monitor) ScheduleCallback(programID, staticContextID, schedulerTraceID store.ID) (store.ID, error) {
	sc, err := m.resolveStaticContext("scheduleCallback", programID, staticContextID)
	if err != nil {
		return 0, err
	}
	id, err := m.scheduleCallback(sc.StaticContextID, schedulerTraceID)
	if err != nil {
		return 0, err
	}
	return id, m.maybeFlush()
}

// PushCallback starts executing the callback scheduled as scheduledContextID.
func (m *Monitor) PushCallback(scheduledContextID store.ID) (store.ID, error) {
	id, err := m.pushCallback(scheduledContextID)
	if err != nil {
		return 0, err
	}
	return id, m.maybeFlush()
}

// PopCallback leaves the callback context contextID.
func (m *Monitor) PopCallback(contextID store.ID) error {
	if err := m.pop("popCallback", contextID, store.ContextCallback); err != nil {
		if flushErr := m.maybeFlush(); flushErr != nil {
			return flushErr
		}
		return err
	}
	return m.maybeFlush()
}

// WrapCallback returns fn wrapped so that every invocation runs inside a
// callback context of scheduledContextID.
func (m *Monitor) WrapCallback(scheduledContextID store.ID, fn func() error) func() error {
	return func() error {
		id, err := m.PushCallback(scheduledContextID)
		if err != nil {
			return err
		}
		fnErr := fn()
		if err := m.PopCallback(id); err != nil && fnErr == nil {
			return err
		}
		return fnErr
	}
}

// AwaitID suspends the running segment at an await and returns the await
// context id.
func (m *Monitor) AwaitID(programID, staticContextID store.ID) (store.ID, error) {
	sc, err := m.resolveStaticContext("awaitId", programID, staticContextID)
	if err != nil {
		return 0, err
	}
	id, err := m.awaitID(sc.StaticContextID)
	if err != nil {
		return 0, err
	}
	return id, m.maybeFlush()
}

// PostAwait resumes the segment suspended at awaitContextID. result is
// passed through unchanged.
func (m *Monitor) PostAwait(result any, awaitContextID store.ID) (any, error) {
	if err := m.postAwait(awaitContextID); err != nil {
		return result, err
	}
	return result, m.maybeFlush()
}

// TraceValue records value for a static trace in the running context.
func (m *Monitor) TraceValue(programID, staticTraceID store.ID, value any) (store.ID, error) {
	return m.TraceKind(programID, staticTraceID, store.TraceKindNone, value)
}

// TraceKind is TraceValue with a dynamic kind overriding the static one.
func (m *Monitor) TraceKind(programID, staticTraceID store.ID, kind store.TraceKind, value any) (store.ID, error) {
	st, err := m.resolveStaticTrace("trace", programID, staticTraceID)
	if err != nil {
		return 0, err
	}
	id, err := m.trace(st.StaticTraceID, kind, value)
	if err != nil {
		return 0, err
	}
	return id, m.maybeFlush()
}
