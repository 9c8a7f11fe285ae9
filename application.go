package tracegraph

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jward/tracegraph/internal/eventlog"
	"github.com/jward/tracegraph/internal/idgen"
	"github.com/jward/tracegraph/internal/index"
	"github.com/jward/tracegraph/internal/monitor"
	"github.com/jward/tracegraph/internal/store"
)

// Application is one traced program run: a registry, its indexes and the
// stack machine feeding them. Writers (AddData, ApplyEvents, Update) take
// the write lock; View takes the read lock.
type Application struct {
	id        ID
	uuid      string
	createdAt time.Time
	logger    *slog.Logger

	mu       sync.RWMutex
	registry *store.Registry
	indexes  *index.Engine
	builtins *index.Builtins
	monitor  *monitor.Monitor
	log      *eventlog.Writer
}

func newApplication(id ID, u string, logger *slog.Logger, batchSize int, clock func() int64, log *eventlog.Writer) (*Application, error) {
	a := &Application{
		id:        id,
		uuid:      u,
		createdAt: time.Now(),
		logger:    logger,
		log:       log,
	}
	a.registry = store.NewRegistry(store.WithApplicationID(id), store.WithLogger(logger))
	a.indexes = index.NewEngine(a.registry, index.WithLogger(logger))
	a.builtins = index.NewBuiltins()
	if err := a.builtins.RegisterAll(a.indexes); err != nil {
		return nil, fmt.Errorf("tracegraph: register indexes: %w", err)
	}

	opts := []monitor.Option{
		monitor.WithLogger(logger),
		monitor.WithAllocator(idgen.New()),
		monitor.WithBatchSize(batchSize),
	}
	if clock != nil {
		opts = append(opts, monitor.WithClock(clock))
	}
	a.monitor = monitor.New(monitor.RecorderFunc(a.record), opts...)
	return a, nil
}

// ID returns the numeric application id stamped on every record.
func (a *Application) ID() ID { return a.id }

// UUID returns the id runtimes use to reconnect to this application.
func (a *Application) UUID() string { return a.uuid }

// CreatedAt returns when the application was created.
func (a *Application) CreatedAt() time.Time { return a.createdAt }

// record applies b to the registry and appends what was applied to the
// event log. Callers hold the write lock.
func (a *Application) record(b *store.Batch) error {
	applied, err := a.registry.AddData(b)
	if a.log != nil && applied.Len() > 0 {
		if werr := a.log.WriteBatch(applied); werr != nil {
			err = errors.Join(err, fmt.Errorf("tracegraph: append log: %w", werr))
		}
	}
	return err
}

// AddData applies a batch produced elsewhere, for example by a remote
// runtime. The stack machine's allocators are advanced past the batch ids
// so events applied later do not collide with it.
func (a *Application) AddData(b *store.Batch) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.record(b)
	a.monitor.Observe(b)
	return err
}

// ApplyEvents runs serialized events through the stack machine in order.
// Protocol errors do not stop the remaining events; they are returned
// joined, and the results of rejected events have a zero id.
func (a *Application) ApplyEvents(events []monitor.Event) ([]monitor.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	results := make([]monitor.Result, len(events))
	var errs []error
	for i, ev := range events {
		res, err := a.monitor.Apply(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %d (%s): %w", i, ev.Op, err))
		}
		results[i] = res
	}
	if err := a.monitor.Flush(); err != nil {
		errs = append(errs, err)
	}
	return results, errors.Join(errs...)
}

// Update calls fn with the stack machine under the write lock and flushes
// its pending records afterwards.
func (a *Application) Update(fn func(m *monitor.Monitor) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := fn(a.monitor)
	return errors.Join(err, a.monitor.Flush())
}

// View calls fn with a QueryBuilder under the read lock.
func (a *Application) View(fn func(q *QueryBuilder) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return fn(a.query())
}

// Query returns a QueryBuilder without locking. It is meant for callers
// that own the application exclusively, such as the CLI.
func (a *Application) Query() *QueryBuilder {
	return a.query()
}

func (a *Application) query() *QueryBuilder {
	return &QueryBuilder{reg: a.registry, idx: a.builtins}
}

// RegisterIndex adds a custom index and backfills it from existing data.
func (a *Application) RegisterIndex(idx index.Index) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.indexes.Register(idx)
}

// Index returns a registered index by name, or nil.
func (a *Application) Index(name string) index.Index {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.indexes.Get(name)
}

// Version returns the version of one collection. It changes whenever the
// collection changes, so readers can detect stale snapshots.
func (a *Application) Version(name store.CollectionName) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry.Version(name)
}

// Stack returns the current logical stack, bottom first, and the waiting
// stacks keyed by their suspension point.
func (a *Application) Stack() ([]ID, map[ID][]ID) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.monitor.StackIDs(), a.monitor.Waiting()
}

// Snapshot returns every record of the application as one batch.
func (a *Application) Snapshot() *store.Batch {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry.Snapshot()
}

// Dump writes the application to w in event log format.
func (a *Application) Dump(w io.Writer) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return eventlog.Dump(w, a.registry)
}

// Replay applies an event log read from r.
func (a *Application) Replay(r io.Reader) (eventlog.Stats, error) {
	return eventlog.Replay(r, a.AddData)
}

// Close flushes pending records and closes the event log.
func (a *Application) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.monitor.Flush()
	if a.log != nil {
		err = errors.Join(err, a.log.Close())
		a.log = nil
	}
	return err
}
