package store

import "fmt"

// CollectionName identifies one collection of the registry.
type CollectionName string

const (
	StaticProgramContexts CollectionName = "staticProgramContexts"
	StaticContexts        CollectionName = "staticContexts"
	StaticTraces          CollectionName = "staticTraces"
	ExecutionContexts     CollectionName = "executionContexts"
	Traces                CollectionName = "traces"
	Values                CollectionName = "values"
	ContextPops           CollectionName = "contextPops"
)

// CollectionNames lists every collection in the order batches are applied.
// Static metadata goes first so dynamic records can reference it.
func CollectionNames() []CollectionName {
	return []CollectionName{
		StaticProgramContexts, StaticContexts, StaticTraces,
		ExecutionContexts, Traces, Values, ContextPops,
	}
}

// ParseCollectionName validates s against the known collections.
func ParseCollectionName(s string) (CollectionName, error) {
	for _, name := range CollectionNames() {
		if string(name) == s {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCollection, s)
}

// Batch is a set of new records grouped by collection. It is the unit of
// transport, of registry insertion and of index notification.
type Batch struct {
	StaticProgramContexts []StaticProgramContext `json:"staticProgramContexts,omitempty"`
	StaticContexts        []StaticContext        `json:"staticContexts,omitempty"`
	StaticTraces          []StaticTrace          `json:"staticTraces,omitempty"`
	ExecutionContexts     []ExecutionContext     `json:"executionContexts,omitempty"`
	Traces                []Trace                `json:"traces,omitempty"`
	Values                []ValueRef             `json:"values,omitempty"`
	ContextPops           []ContextPop           `json:"contextPops,omitempty"`
}

// Len returns the total number of records in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.StaticProgramContexts) + len(b.StaticContexts) + len(b.StaticTraces) +
		len(b.ExecutionContexts) + len(b.Traces) + len(b.Values) + len(b.ContextPops)
}

// Count returns the number of records for one collection.
func (b *Batch) Count(name CollectionName) int {
	if b == nil {
		return 0
	}
	switch name {
	case StaticProgramContexts:
		return len(b.StaticProgramContexts)
	case StaticContexts:
		return len(b.StaticContexts)
	case StaticTraces:
		return len(b.StaticTraces)
	case ExecutionContexts:
		return len(b.ExecutionContexts)
	case Traces:
		return len(b.Traces)
	case Values:
		return len(b.Values)
	case ContextPops:
		return len(b.ContextPops)
	}
	return 0
}

// Touches reports whether the batch has records for any of names.
func (b *Batch) Touches(names ...CollectionName) bool {
	for _, n := range names {
		if b.Count(n) > 0 {
			return true
		}
	}
	return false
}

// Append adds all records of other to b, keeping per-collection order.
func (b *Batch) Append(other *Batch) {
	if other == nil {
		return
	}
	b.StaticProgramContexts = append(b.StaticProgramContexts, other.StaticProgramContexts...)
	b.StaticContexts = append(b.StaticContexts, other.StaticContexts...)
	b.StaticTraces = append(b.StaticTraces, other.StaticTraces...)
	b.ExecutionContexts = append(b.ExecutionContexts, other.ExecutionContexts...)
	b.Traces = append(b.Traces, other.Traces...)
	b.Values = append(b.Values, other.Values...)
	b.ContextPops = append(b.ContextPops, other.ContextPops...)
}
