package monitor

import (
	"fmt"

	"github.com/jward/tracegraph/internal/store"
)

// Op names one instrumentation event.
type Op string

const (
	OpAddProgram       Op = "addProgram"
	OpPushImmediate    Op = "pushImmediate"
	OpPopImmediate     Op = "popImmediate"
	OpScheduleCallback Op = "scheduleCallback"
	OpPushCallback     Op = "pushCallback"
	OpPopCallback      Op = "popCallback"
	OpAwaitID          Op = "awaitId"
	OpPostAwait        Op = "postAwait"
	OpTrace            Op = "trace"
)

func (o *Op) UnmarshalText(b []byte) error {
	switch op := Op(b); op {
	case OpAddProgram, OpPushImmediate, OpPopImmediate, OpScheduleCallback,
		OpPushCallback, OpPopCallback, OpAwaitID, OpPostAwait, OpTrace:
		*o = op
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownOp, string(b))
}

// Event is the serialized form of one instrumentation call.
type Event struct {
	Op               Op              `json:"op"`
	ProgramID        store.ID        `json:"programId,omitempty"`
	StaticContextID  store.ID        `json:"staticContextId,omitempty"`
	StaticTraceID    store.ID        `json:"staticTraceId,omitempty"`
	SchedulerTraceID store.ID        `json:"schedulerTraceId,omitempty"`
	ContextID        store.ID        `json:"contextId,omitempty"`
	Kind             store.TraceKind `json:"kind,omitempty"`
	Value            any             `json:"value,omitempty"`
	Program          *ProgramData    `json:"program,omitempty"`
}

// Result carries the id an event produced: a program id for addProgram, a
// trace id for trace and a context id otherwise. Pops produce 0.
type Result struct {
	ID store.ID `json:"id"`
}

// Apply dispatches ev to the matching event API method.
func (m *Monitor) Apply(ev Event) (Result, error) {
	var (
		id  store.ID
		err error
	)
	switch ev.Op {
	case OpAddProgram:
		if ev.Program == nil {
			return Result{}, m.protocolError("addProgram", fmt.Errorf("%w: missing program", ErrInvalidProgram))
		}
		var p *Program
		if p, err = m.AddProgram(*ev.Program); p != nil {
			id = p.ID
		}
	case OpPushImmediate:
		id, err = m.PushImmediate(ev.ProgramID, ev.StaticContextID)
	case OpPopImmediate:
		err = m.PopImmediate(ev.ContextID)
	case OpScheduleCallback:
		id, err = m.ScheduleCallback(ev.ProgramID, ev.StaticContextID, ev.SchedulerTraceID)
	case OpPushCallback:
		id, err = m.PushCallback(ev.ContextID)
	case OpPopCallback:
		err = m.PopCallback(ev.ContextID)
	case OpAwaitID:
		id, err = m.AwaitID(ev.ProgramID, ev.StaticContextID)
	case OpPostAwait:
		_, err = m.PostAwait(nil, ev.ContextID)
	case OpTrace:
		id, err = m.TraceKind(ev.ProgramID, ev.StaticTraceID, ev.Kind, ev.Value)
	default:
		return Result{}, m.protocolError("apply", fmt.Errorf("%w: %q", ErrUnknownOp, ev.Op))
	}
	return Result{ID: id}, err
}
