package index

import (
	"cmp"
	"maps"
	"slices"

	"github.com/jward/tracegraph/internal/store"
)

// Source describes how to read one collection, both from the registry and
// from an applied batch.
type Source[T any] struct {
	Collection store.CollectionName
	All        func(reg *store.Registry) []*T
	Added      func(b *store.Batch) []T
	ID         func(rec *T) store.ID
}

var (
	StaticContextSource = Source[store.StaticContext]{
		Collection: store.StaticContexts,
		All:        func(r *store.Registry) []*store.StaticContext { return r.StaticContexts.All() },
		Added:      func(b *store.Batch) []store.StaticContext { return b.StaticContexts },
		ID:         func(s *store.StaticContext) store.ID { return s.StaticContextID },
	}
	StaticTraceSource = Source[store.StaticTrace]{
		Collection: store.StaticTraces,
		All:        func(r *store.Registry) []*store.StaticTrace { return r.StaticTraces.All() },
		Added:      func(b *store.Batch) []store.StaticTrace { return b.StaticTraces },
		ID:         func(s *store.StaticTrace) store.ID { return s.StaticTraceID },
	}
	ContextSource = Source[store.ExecutionContext]{
		Collection: store.ExecutionContexts,
		All:        func(r *store.Registry) []*store.ExecutionContext { return r.ExecutionContexts.All() },
		Added:      func(b *store.Batch) []store.ExecutionContext { return b.ExecutionContexts },
		ID:         func(c *store.ExecutionContext) store.ID { return c.ContextID },
	}
	TraceSource = Source[store.Trace]{
		Collection: store.Traces,
		All:        func(r *store.Registry) []*store.Trace { return r.Traces.All() },
		Added:      func(b *store.Batch) []store.Trace { return b.Traces },
		ID:         func(t *store.Trace) store.ID { return t.TraceID },
	}
)

// KeyFunc computes the key of a record. Records for which ok is false are
// not indexed yet; they are retried whenever a collection makeKey reads
// receives records.
type KeyFunc[T any, K cmp.Ordered] func(reg *store.Registry, rec *T) (key K, ok bool)

// Keyed groups the ids of one collection by a computed key. Ids within a
// key stay in insertion order, which is id order.
type Keyed[T any, K cmp.Ordered] struct {
	name    string
	source  Source[T]
	deps    []store.CollectionName
	makeKey KeyFunc[T, K]
	entries map[K][]store.ID
	// unkeyed holds records whose key could not be computed yet.
	unkeyed []T
}

// NewKeyed creates a keyed index over src. extraDeps names collections
// makeKey reads besides the source collection.
func NewKeyed[T any, K cmp.Ordered](name string, src Source[T], makeKey KeyFunc[T, K], extraDeps ...store.CollectionName) *Keyed[T, K] {
	return &Keyed[T, K]{
		name:    name,
		source:  src,
		deps:    append([]store.CollectionName{src.Collection}, extraDeps...),
		makeKey: makeKey,
		entries: make(map[K][]store.ID),
	}
}

func (k *Keyed[T, K]) Name() string                        { return k.name }
func (k *Keyed[T, K]) Dependencies() []store.CollectionName { return k.deps }

func (k *Keyed[T, K]) Backfill(reg *store.Registry) {
	k.entries = make(map[K][]store.ID)
	k.unkeyed = nil
	for _, rec := range k.source.All(reg) {
		k.add(reg, rec)
	}
}

func (k *Keyed[T, K]) AddEntries(reg *store.Registry, applied *store.Batch) {
	if len(k.unkeyed) > 0 && applied.Touches(k.deps[1:]...) {
		retry := k.unkeyed
		k.unkeyed = nil
		for i := range retry {
			k.add(reg, &retry[i])
		}
	}
	added := k.source.Added(applied)
	for i := range added {
		k.add(reg, &added[i])
	}
}

func (k *Keyed[T, K]) add(reg *store.Registry, rec *T) {
	key, ok := k.makeKey(reg, rec)
	if !ok {
		k.unkeyed = append(k.unkeyed, *rec)
		return
	}
	id := k.source.ID(rec)
	ids := k.entries[key]
	if n := len(ids); n == 0 || ids[n-1] < id {
		k.entries[key] = append(ids, id)
		return
	}
	// a retried record lands between ids that were keyed before it
	i, found := slices.BinarySearch(ids, id)
	if !found {
		k.entries[key] = slices.Insert(slices.Clone(ids), i, id)
	}
}

// Get returns the ids stored under key. The slice must not be modified.
func (k *Keyed[T, K]) Get(key K) []store.ID {
	return k.entries[key]
}

// Keys returns all keys in ascending order.
func (k *Keyed[T, K]) Keys() []K {
	return slices.Sorted(maps.Keys(k.entries))
}

// Len returns the number of distinct keys.
func (k *Keyed[T, K]) Len() int {
	return len(k.entries)
}
