// Package monitor reconstructs logical execution stacks from
// instrumentation events. It assigns parent contexts across scheduled
// callbacks and await suspensions, and emits the resulting records as
// store batches.
package monitor

import (
	"io"
	"log/slog"
	"time"

	"github.com/jward/tracegraph/internal/idgen"
	"github.com/jward/tracegraph/internal/store"
)

// Recorder receives the records produced by a Monitor.
type Recorder interface {
	Record(b *store.Batch) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(b *store.Batch) error

func (f RecorderFunc) Record(b *store.Batch) error { return f(b) }

type contextState struct {
	kind            store.ContextKind
	staticContextID store.ID
	runID           store.ID
	schedulerTrace  store.ID
	popped          bool
}

// Monitor is the stack machine of one traced application. It is not safe
// for concurrent use; events must be applied in arrival order by a single
// goroutine.
type Monitor struct {
	ids       *idgen.Allocator
	logger    *slog.Logger
	now       func() int64
	recorder  Recorder
	batchSize int

	programs       map[store.ID]*Program
	programsByPath map[string]*Program
	staticContexts map[store.ID]store.StaticContext
	staticTraces   map[store.ID]store.StaticTrace

	stack    Stack
	contexts map[store.ID]*contextState
	runID    store.ID

	pending *store.Batch
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger protocol errors are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithAllocator shares an id allocator with other components.
func WithAllocator(a *idgen.Allocator) Option {
	return func(m *Monitor) { m.ids = a }
}

// WithBatchSize sets how many records are buffered before they are handed
// to the Recorder. Values below 1 flush after every event.
func WithBatchSize(n int) Option {
	return func(m *Monitor) { m.batchSize = n }
}

// WithClock replaces the millisecond clock used for createdAt and poppedAt.
func WithClock(now func() int64) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor that hands its records to rec.
func New(rec Recorder, opts ...Option) *Monitor {
	m := &Monitor{
		ids:            idgen.New(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:            func() int64 { return time.Now().UnixMilli() },
		recorder:       rec,
		batchSize:      1,
		programs:       make(map[store.ID]*Program),
		programsByPath: make(map[string]*Program),
		staticContexts: make(map[store.ID]store.StaticContext),
		staticTraces:   make(map[store.ID]store.StaticTrace),
		stack:          newStack(),
		contexts:       make(map[store.ID]*contextState),
		pending:        &store.Batch{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PeekStack returns the context on top of the current stack, or 0.
func (m *Monitor) PeekStack() store.ID { return m.stack.Peek() }

// StackDepth returns the size of the current stack.
func (m *Monitor) StackDepth() int { return m.stack.Depth() }

// StackIDs returns the current stack, bottom first.
func (m *Monitor) StackIDs() []store.ID { return m.stack.IDs() }

// Waiting returns every waiting stack keyed by its suspension point.
// Awaits that never resume and callbacks that were scheduled stay here for
// the lifetime of the Monitor.
func (m *Monitor) Waiting() map[store.ID][]store.ID { return m.stack.Waiting() }

// WaitingIDs returns the keys of Waiting in ascending order.
func (m *Monitor) WaitingIDs() []store.ID { return m.stack.WaitingIDs() }

// Observe advances the id allocator past every id in b, so that records
// produced later never collide with records that were added directly.
func (m *Monitor) Observe(b *store.Batch) {
	if b == nil {
		return
	}
	for _, p := range b.StaticProgramContexts {
		m.ids.Observe(idgen.Programs, p.ProgramID)
	}
	for _, s := range b.StaticContexts {
		m.ids.Observe(idgen.StaticContexts, s.StaticContextID)
	}
	for _, s := range b.StaticTraces {
		m.ids.Observe(idgen.StaticTraces, s.StaticTraceID)
	}
	for _, c := range b.ExecutionContexts {
		m.ids.Observe(idgen.Contexts, c.ContextID)
		m.ids.Observe(idgen.Runs, c.RunID)
	}
	for _, t := range b.Traces {
		m.ids.Observe(idgen.Traces, t.TraceID)
	}
	for _, v := range b.Values {
		m.ids.Observe(idgen.Values, v.ValueID)
	}
}

// Flush hands all buffered records to the Recorder.
func (m *Monitor) Flush() error {
	if m.pending.Len() == 0 {
		return nil
	}
	b := m.pending
	m.pending = &store.Batch{}
	return m.recorder.Record(b)
}

func (m *Monitor) maybeFlush() error {
	if m.pending.Len() < m.batchSize {
		return nil
	}
	return m.Flush()
}

func (m *Monitor) protocolError(op string, err error, args ...any) error {
	m.logger.Warn("monitor: "+op+" ignored", append(args, "err", err)...)
	return err
}

// currentRun returns the run of contexts created now. A context created
// on an empty stack starts a new run.
func (m *Monitor) currentRun() store.ID {
	if m.stack.Depth() == 0 || m.runID == 0 {
		m.runID = m.ids.Next(idgen.Runs)
	}
	return m.runID
}

// newContext allocates and records an execution context parented to
// parent. The stack is not modified.
func (m *Monitor) newContext(kind store.ContextKind, staticContextID, parent, schedulerTrace store.ID) store.ExecutionContext {
	c := store.ExecutionContext{
		ContextID:        m.ids.Next(idgen.Contexts),
		ContextKind:      kind,
		StaticContextID:  staticContextID,
		ParentContextID:  parent,
		SchedulerTraceID: schedulerTrace,
		StackDepth:       m.stack.Depth(),
		RunID:            m.currentRun(),
		CreatedAt:        m.now(),
	}
	m.contexts[c.ContextID] = &contextState{
		kind:            kind,
		staticContextID: staticContextID,
		runID:           c.RunID,
		schedulerTrace:  schedulerTrace,
	}
	m.pending.ExecutionContexts = append(m.pending.ExecutionContexts, c)
	return c
}

func (m *Monitor) markPopped(id store.ID) {
	st := m.contexts[id]
	st.popped = true
	m.pending.ContextPops = append(m.pending.ContextPops, store.ContextPop{ContextID: id, PoppedAt: m.now()})
}
