package tracegraph

import (
	"fmt"
	"slices"

	"github.com/jward/tracegraph/internal/store"
)

// StaticTraceGroup is the set of traces of one static trace that share a
// kind.
type StaticTraceGroup struct {
	StaticTrace *StaticTrace `json:"staticTrace"`
	Traces      []*Trace     `json:"traces"`
}

// KindGroup collects StaticTraceGroups of one kind.
type KindGroup struct {
	Kind   TraceKind          `json:"kind"`
	Groups []StaticTraceGroup `json:"groups"`
}

// GroupTracesByKind buckets the executions of each static trace by kind.
// Static traces whose kind cannot be overridden form a single group under
// their static kind; the others are split by each trace's effective kind.
// Static traces without executions are skipped. Kind groups are ordered by
// kind, entries within a kind by input order.
func (q *QueryBuilder) GroupTracesByKind(staticTraces []*StaticTrace) ([]KindGroup, error) {
	byKind := make(map[TraceKind][]StaticTraceGroup)
	for i, st := range staticTraces {
		if st == nil {
			return nil, fmt.Errorf("group traces by kind: %w: static trace %d is nil", ErrInvalidInput, i)
		}
		traces := q.TracesOfStaticTrace(st.StaticTraceID)
		if len(traces) == 0 {
			continue
		}
		if !st.Kind.HasDynamicKinds() {
			byKind[st.Kind] = append(byKind[st.Kind], StaticTraceGroup{StaticTrace: st, Traces: traces})
			continue
		}
		split := make(map[TraceKind][]*Trace)
		for _, t := range traces {
			k := t.Kind
			if k == store.TraceKindNone {
				k = st.Kind
			}
			split[k] = append(split[k], t)
		}
		for _, k := range sortedKinds(split) {
			byKind[k] = append(byKind[k], StaticTraceGroup{StaticTrace: st, Traces: split[k]})
		}
	}

	out := make([]KindGroup, 0, len(byKind))
	for _, k := range sortedKinds(byKind) {
		out = append(out, KindGroup{Kind: k, Groups: byKind[k]})
	}
	return out, nil
}

func sortedKinds[V any](m map[TraceKind]V) []TraceKind {
	kinds := make([]TraceKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// GroupMode selects how GroupTraces partitions traces.
type GroupMode uint8

const (
	Ungrouped GroupMode = iota
	GroupByRun
	GroupByContext
	GroupByParentContext
	GroupByCallback
)

var groupModeNames = map[GroupMode]string{
	Ungrouped:            "ungrouped",
	GroupByRun:           "run",
	GroupByContext:       "context",
	GroupByParentContext: "parentContext",
	GroupByCallback:      "callback",
}

func (m GroupMode) String() string {
	if s, ok := groupModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("GroupMode(%d)", uint8(m))
}

// ParseGroupMode parses the name of a GroupMode.
func ParseGroupMode(s string) (GroupMode, error) {
	for m, name := range groupModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown group mode %q", ErrInvalidInput, s)
}

// TraceGroup is one partition produced by GroupTraces. Key is the run,
// context, parent context or scheduler trace the group shares; 0 means the
// traces have none.
type TraceGroup struct {
	Key    ID       `json:"key"`
	Traces []*Trace `json:"traces"`
}

// GroupTraces partitions traces by mode. Groups are ordered by key and keep
// the input order of their traces. A trace whose context is unknown falls
// into the 0 group for context-derived modes.
func (q *QueryBuilder) GroupTraces(traces []*Trace, mode GroupMode) ([]TraceGroup, error) {
	var keyOf func(t *Trace) ID
	switch mode {
	case Ungrouped:
		keyOf = func(*Trace) ID { return 0 }
	case GroupByRun:
		keyOf = func(t *Trace) ID { return t.RunID }
	case GroupByContext:
		keyOf = func(t *Trace) ID { return t.ContextID }
	case GroupByParentContext:
		keyOf = func(t *Trace) ID {
			if c := q.reg.ExecutionContexts.Get(t.ContextID); c != nil {
				return c.ParentContextID
			}
			return 0
		}
	case GroupByCallback:
		keyOf = func(t *Trace) ID {
			if c := q.reg.ExecutionContexts.Get(t.ContextID); c != nil {
				return c.SchedulerTraceID
			}
			return 0
		}
	default:
		return nil, fmt.Errorf("group traces: %w: mode %s", ErrInvalidInput, mode)
	}

	groups := make(map[ID][]*Trace)
	for i, t := range traces {
		if t == nil {
			return nil, fmt.Errorf("group traces: %w: trace %d is nil", ErrInvalidInput, i)
		}
		k := keyOf(t)
		groups[k] = append(groups[k], t)
	}

	keys := make([]ID, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]TraceGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, TraceGroup{Key: k, Traces: groups[k]})
	}
	return out, nil
}
