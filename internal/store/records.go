package store

import "github.com/jward/tracegraph/internal/idgen"

// ID is the identity type shared by every collection.
type ID = idgen.ID

// Loc is a source range. Lines are 1-based, columns 0-based.
type Loc struct {
	StartLine int `json:"startLine"`
	StartCol  int `json:"startCol"`
	EndLine   int `json:"endLine"`
	EndCol    int `json:"endCol"`
}

// StaticProgramContext is one instrumented source file.
type StaticProgramContext struct {
	ProgramID     ID     `json:"programId"`
	FilePath      string `json:"filePath"`
	ApplicationID ID     `json:"applicationId,omitempty"`
}

// StaticContext is one function or block definition site.
type StaticContext struct {
	StaticContextID ID                `json:"staticContextId"`
	ProgramID       ID                `json:"programId"`
	ParentID        ID                `json:"parentId,omitempty"`
	Kind            StaticContextKind `json:"kind"`
	IsInterruptable bool              `json:"isInterruptable,omitempty"`
	DisplayName     string            `json:"displayName,omitempty"`
	Loc             Loc               `json:"loc"`
	ApplicationID   ID                `json:"applicationId,omitempty"`
}

// StaticTrace is one traced expression or statement site.
type StaticTrace struct {
	StaticTraceID   ID        `json:"staticTraceId"`
	StaticContextID ID        `json:"staticContextId"`
	Kind            TraceKind `json:"kind"`
	DisplayName     string    `json:"displayName,omitempty"`
	Loc             Loc       `json:"loc"`
	ApplicationID   ID        `json:"applicationId,omitempty"`
}

// ExecutionContext is one dynamic activation of a StaticContext.
// Timestamps are unix milliseconds; PoppedAt is 0 while active.
type ExecutionContext struct {
	ContextID        ID          `json:"contextId"`
	ContextKind      ContextKind `json:"contextKind"`
	StaticContextID  ID          `json:"staticContextId"`
	ParentContextID  ID          `json:"parentContextId,omitempty"`
	SchedulerTraceID ID          `json:"schedulerTraceId,omitempty"`
	StackDepth       int         `json:"stackDepth"`
	RunID            ID          `json:"runId"`
	ApplicationID    ID          `json:"applicationId,omitempty"`
	CreatedAt        int64       `json:"createdAt"`
	PoppedAt         int64       `json:"poppedAt,omitempty"`
}

// Popped reports whether the context has been popped.
func (c ExecutionContext) Popped() bool {
	return c.PoppedAt != 0
}

// WithPoppedAt returns a copy of c popped at ts.
func (c ExecutionContext) WithPoppedAt(ts int64) ExecutionContext {
	c.PoppedAt = ts
	return c
}

// Trace is one dynamic occurrence of a StaticTrace. Primitive values are
// inlined in Value; other values live in the values collection under ValueID.
type Trace struct {
	TraceID       ID        `json:"traceId"`
	ContextID     ID        `json:"contextId"`
	StaticTraceID ID        `json:"staticTraceId"`
	Kind          TraceKind `json:"kind,omitempty"`
	Value         any       `json:"value,omitempty"`
	ValueID       ID        `json:"valueId,omitempty"`
	RunID         ID        `json:"runId"`
	ApplicationID ID        `json:"applicationId,omitempty"`
	CreatedAt     int64     `json:"createdAt"`
}

// ValueRef is a captured non-primitive runtime value. Serialized travels
// over the wire; the registry decodes it into Value on insert and drops it,
// unless the value holds NaN or an infinity and Value is only its display
// form.
type ValueRef struct {
	ValueID       ID     `json:"valueId"`
	TraceID       ID     `json:"traceId"`
	Serialized    []byte `json:"serialized,omitempty"`
	Value         any    `json:"value,omitempty"`
	ApplicationID ID     `json:"applicationId,omitempty"`
}

// ContextPop records that a context was popped. It is the only mutation
// the registry accepts for an existing record.
type ContextPop struct {
	ContextID ID    `json:"contextId"`
	PoppedAt  int64 `json:"poppedAt"`
}
