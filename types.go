package tracegraph

import "github.com/jward/tracegraph/internal/store"

// Public aliases for the record types returned by the QueryBuilder.

type ID = store.ID
type StaticProgramContext = store.StaticProgramContext
type StaticContext = store.StaticContext
type StaticTrace = store.StaticTrace
type ExecutionContext = store.ExecutionContext
type Trace = store.Trace
type ValueRef = store.ValueRef
type TraceKind = store.TraceKind
type ContextKind = store.ContextKind
type Batch = store.Batch
