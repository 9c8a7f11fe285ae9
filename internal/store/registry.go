package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Subscriber receives every batch after it was applied. applied holds only
// the records that were actually stored, in their normalized form.
type Subscriber interface {
	DataAdded(applied *Batch)
}

// Registry holds the static and dynamic collections of one application.
// AddData is its only mutator. A Registry is not safe for concurrent use;
// callers serialize writers against readers.
type Registry struct {
	applicationID ID
	logger        *slog.Logger

	StaticProgramContexts *Collection[StaticProgramContext]
	StaticContexts        *Collection[StaticContext]
	StaticTraces          *Collection[StaticTrace]
	ExecutionContexts     *Collection[ExecutionContext]
	Traces                *Collection[Trace]
	Values                *Collection[ValueRef]

	popVersion  uint64
	subscribers []Subscriber
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithApplicationID stamps every inserted record with id.
func WithApplicationID(id ID) RegistryOption {
	return func(r *Registry) { r.applicationID = id }
}

// WithLogger sets the logger protocol errors are reported to.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(r)
	}

	r.StaticProgramContexts = NewCollection(StaticProgramContexts,
		func(p *StaticProgramContext) ID { return p.ProgramID },
		func(p StaticProgramContext) (StaticProgramContext, error) {
			if p.FilePath == "" {
				return p, fmt.Errorf("%w: program %d has no file path", ErrMalformedRecord, p.ProgramID)
			}
			p.ApplicationID = r.applicationID
			return p, nil
		})
	r.StaticContexts = NewCollection(StaticContexts,
		func(s *StaticContext) ID { return s.StaticContextID },
		func(s StaticContext) (StaticContext, error) {
			if _, ok := staticContextKindNames[s.Kind]; !ok {
				return s, fmt.Errorf("%w: static context %d has kind %s", ErrMalformedRecord, s.StaticContextID, s.Kind)
			}
			s.ApplicationID = r.applicationID
			return s, nil
		})
	r.StaticTraces = NewCollection(StaticTraces,
		func(s *StaticTrace) ID { return s.StaticTraceID },
		func(s StaticTrace) (StaticTrace, error) {
			if !s.Kind.Valid() {
				return s, fmt.Errorf("%w: static trace %d has kind %s", ErrMalformedRecord, s.StaticTraceID, s.Kind)
			}
			s.ApplicationID = r.applicationID
			return s, nil
		})
	r.ExecutionContexts = NewCollection(ExecutionContexts,
		func(c *ExecutionContext) ID { return c.ContextID },
		func(c ExecutionContext) (ExecutionContext, error) {
			if _, ok := contextKindNames[c.ContextKind]; !ok {
				return c, fmt.Errorf("%w: context %d has kind %s", ErrMalformedRecord, c.ContextID, c.ContextKind)
			}
			if c.ParentContextID >= c.ContextID && c.ContextID != 0 {
				return c, fmt.Errorf("%w: context %d has parent %d", ErrMalformedRecord, c.ContextID, c.ParentContextID)
			}
			c.ApplicationID = r.applicationID
			return c, nil
		})
	r.Traces = NewCollection(Traces,
		func(t *Trace) ID { return t.TraceID },
		func(t Trace) (Trace, error) {
			if t.Kind != TraceKindNone && !t.Kind.Valid() {
				return t, fmt.Errorf("%w: trace %d has kind %s", ErrMalformedRecord, t.TraceID, t.Kind)
			}
			if t.ContextID == 0 {
				return t, fmt.Errorf("%w: trace %d has no context", ErrMalformedRecord, t.TraceID)
			}
			t.Value = jsonNumbers(t.Value)
			if _, nonFinite := displayValue(t.Value); nonFinite {
				return t, fmt.Errorf("%w: trace %d has a non-finite inline value", ErrMalformedRecord, t.TraceID)
			}
			t.ApplicationID = r.applicationID
			return t, nil
		})
	r.Values = NewCollection(Values,
		func(v *ValueRef) ID { return v.ValueID },
		func(v ValueRef) (ValueRef, error) {
			if v.Serialized != nil {
				decoded, err := DecodeValue(v.Serialized)
				if err != nil {
					return v, fmt.Errorf("%w: value %d: %w", ErrMalformedRecord, v.ValueID, err)
				}
				// a value without a JSON form keeps its encoding next to
				// its display form
				display, changed := displayValue(decoded)
				v.Value = display
				if !changed {
					v.Serialized = nil
				}
			} else {
				v.Value, _ = displayValue(jsonNumbers(v.Value))
			}
			v.ApplicationID = r.applicationID
			return v, nil
		})
	return r
}

// ApplicationID returns the id stamped on inserted records.
func (r *Registry) ApplicationID() ID { return r.applicationID }

// Subscribe registers s for notification after every AddData.
func (r *Registry) Subscribe(s Subscriber) {
	r.subscribers = append(r.subscribers, s)
}

// AddData applies b collection by collection in CollectionNames order.
// Records that violate the protocol are logged and skipped; their errors
// are joined into the returned error. The applied records are returned and
// passed to every subscriber.
func (r *Registry) AddData(b *Batch) (*Batch, error) {
	applied := &Batch{}
	if b == nil {
		return applied, nil
	}
	var errs []error
	report := func(name CollectionName, err error) {
		r.logger.Warn("registry: record rejected", "collection", string(name), "err", err)
		errs = append(errs, err)
	}

	for _, rec := range b.StaticProgramContexts {
		if stored, err := r.StaticProgramContexts.Add(rec); err != nil {
			report(StaticProgramContexts, err)
		} else {
			applied.StaticProgramContexts = append(applied.StaticProgramContexts, *stored)
		}
	}
	for _, rec := range b.StaticContexts {
		if stored, err := r.StaticContexts.Add(rec); err != nil {
			report(StaticContexts, err)
		} else {
			applied.StaticContexts = append(applied.StaticContexts, *stored)
		}
	}
	for _, rec := range b.StaticTraces {
		if stored, err := r.StaticTraces.Add(rec); err != nil {
			report(StaticTraces, err)
		} else {
			applied.StaticTraces = append(applied.StaticTraces, *stored)
		}
	}
	for _, rec := range b.ExecutionContexts {
		if stored, err := r.ExecutionContexts.Add(rec); err != nil {
			report(ExecutionContexts, err)
		} else {
			applied.ExecutionContexts = append(applied.ExecutionContexts, *stored)
		}
	}
	for _, rec := range b.Traces {
		if stored, err := r.Traces.Add(rec); err != nil {
			report(Traces, err)
		} else {
			applied.Traces = append(applied.Traces, *stored)
		}
	}
	for _, rec := range b.Values {
		if stored, err := r.Values.Add(rec); err != nil {
			report(Values, err)
		} else {
			applied.Values = append(applied.Values, *stored)
		}
	}
	for _, pop := range b.ContextPops {
		if err := r.applyPop(pop); err != nil {
			report(ContextPops, err)
		} else {
			applied.ContextPops = append(applied.ContextPops, pop)
		}
	}

	if applied.Len() > 0 {
		for _, s := range r.subscribers {
			s.DataAdded(applied)
		}
	}
	return applied, errors.Join(errs...)
}

func (r *Registry) applyPop(pop ContextPop) error {
	if pop.PoppedAt == 0 {
		return fmt.Errorf("%s: %w: pop of %d has no timestamp", ContextPops, ErrMalformedRecord, pop.ContextID)
	}
	ctx := r.ExecutionContexts.Get(pop.ContextID)
	if ctx == nil {
		return fmt.Errorf("%s: %w: %d", ContextPops, ErrUnknownContext, pop.ContextID)
	}
	if ctx.Popped() {
		return fmt.Errorf("%s: %w: %d", ContextPops, ErrAlreadyPopped, pop.ContextID)
	}
	r.ExecutionContexts.replace(pop.ContextID, ctx.WithPoppedAt(pop.PoppedAt))
	r.popVersion++
	return nil
}

// Known reports whether name is a collection of this registry.
func (r *Registry) Known(name CollectionName) bool {
	_, err := ParseCollectionName(string(name))
	return err == nil
}

// Version returns the version counter of a collection. It increases on
// every insert into (or pop applied to) that collection.
func (r *Registry) Version(name CollectionName) uint64 {
	switch name {
	case StaticProgramContexts:
		return r.StaticProgramContexts.Version()
	case StaticContexts:
		return r.StaticContexts.Version()
	case StaticTraces:
		return r.StaticTraces.Version()
	case ExecutionContexts:
		return r.ExecutionContexts.Version()
	case Traces:
		return r.Traces.Version()
	case Values:
		return r.Values.Version()
	case ContextPops:
		return r.popVersion
	}
	return 0
}

// Snapshot returns every stored record as one batch. Pops are folded into
// the PoppedAt of the execution contexts, so ContextPops stays empty.
func (r *Registry) Snapshot() *Batch {
	b := &Batch{}
	for _, p := range r.StaticProgramContexts.All() {
		b.StaticProgramContexts = append(b.StaticProgramContexts, *p)
	}
	for _, s := range r.StaticContexts.All() {
		b.StaticContexts = append(b.StaticContexts, *s)
	}
	for _, s := range r.StaticTraces.All() {
		b.StaticTraces = append(b.StaticTraces, *s)
	}
	for _, c := range r.ExecutionContexts.All() {
		b.ExecutionContexts = append(b.ExecutionContexts, *c)
	}
	for _, t := range r.Traces.All() {
		b.Traces = append(b.Traces, *t)
	}
	for _, v := range r.Values.All() {
		b.Values = append(b.Values, *v)
	}
	return b
}
