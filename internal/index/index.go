// Package index maintains derived lookups over a store.Registry. Indexes
// are updated incrementally with every applied batch and backfilled when
// registered after data already exists.
package index

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jward/tracegraph/internal/store"
)

// Consistency errors. A registry whose index set cannot be built must not
// be queried.
var (
	ErrMissingDependency = errors.New("index depends on unknown collection")
	ErrDuplicateIndex    = errors.New("index already registered")
)

// Index is a derived lookup kept in sync with a registry.
type Index interface {
	Name() string
	// Dependencies lists the collections whose new records may change the
	// index. AddEntries is only called for batches touching one of them.
	Dependencies() []store.CollectionName
	// Backfill rebuilds the index from everything stored in reg.
	Backfill(reg *store.Registry)
	// AddEntries folds the records of applied into the index.
	AddEntries(reg *store.Registry, applied *store.Batch)
}

// Engine dispatches applied batches to its indexes.
type Engine struct {
	reg     *store.Registry
	logger  *slog.Logger
	indexes []Index
	byName  map[string]Index
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine subscribed to reg.
func NewEngine(reg *store.Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		byName: make(map[string]Index),
	}
	for _, opt := range opts {
		opt(e)
	}
	reg.Subscribe(e)
	return e
}

// Register validates idx and backfills it from the registry.
func (e *Engine) Register(idx Index) error {
	name := idx.Name()
	if _, dup := e.byName[name]; dup {
		return fmt.Errorf("register %s: %w", name, ErrDuplicateIndex)
	}
	deps := idx.Dependencies()
	if len(deps) == 0 {
		return fmt.Errorf("register %s: %w: no dependencies declared", name, ErrMissingDependency)
	}
	for _, dep := range deps {
		if !e.reg.Known(dep) {
			return fmt.Errorf("register %s: %w: %q", name, ErrMissingDependency, dep)
		}
	}
	idx.Backfill(e.reg)
	e.indexes = append(e.indexes, idx)
	e.byName[name] = idx
	e.logger.Debug("index registered", "index", name)
	return nil
}

// Get returns a registered index by name, or nil.
func (e *Engine) Get(name string) Index {
	return e.byName[name]
}

// Names lists registered indexes in registration order.
func (e *Engine) Names() []string {
	names := make([]string, len(e.indexes))
	for i, idx := range e.indexes {
		names[i] = idx.Name()
	}
	return names
}

// DataAdded implements store.Subscriber.
func (e *Engine) DataAdded(applied *store.Batch) {
	for _, idx := range e.indexes {
		if applied.Touches(idx.Dependencies()...) {
			idx.AddEntries(e.reg, applied)
		}
	}
}
