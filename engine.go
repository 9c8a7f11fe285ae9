package tracegraph

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jward/tracegraph/internal/eventlog"
	"github.com/jward/tracegraph/internal/idgen"
)

// Engine owns a set of isolated Applications. It replaces any process-wide
// monitor: every Application carries its own state.
type Engine struct {
	mu     sync.RWMutex
	ids    *idgen.Allocator
	logger *slog.Logger

	batchSize int
	logDir    string
	clock     func() int64

	apps   map[ID]*Application
	byUUID map[string]*Application
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to every Application.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBatchSize sets how many records a stack machine buffers before it
// hands them to the registry. Values below 1 mean 1.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// WithLogDir makes every new Application append its applied batches to an
// event log in dir. An empty dir disables logging.
func WithLogDir(dir string) Option {
	return func(e *Engine) { e.logDir = dir }
}

// WithClock overrides the millisecond clock used for context and trace
// timestamps.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.clock = now }
}

// New creates an Engine with no applications.
func New(opts ...Option) *Engine {
	e := &Engine{
		ids:       idgen.New(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize: 1,
		apps:      make(map[ID]*Application),
		byUUID:    make(map[string]*Application),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewApplication creates and registers an empty Application.
func (e *Engine) NewApplication() (*Application, error) {
	return e.newApplication(uuid.NewString(), e.logDir)
}

// Reconnect returns the Application registered under id, creating it when
// the id is unknown. Runtimes that reconnect keep their application.
func (e *Engine) Reconnect(id string) (*Application, error) {
	if id == "" {
		return e.NewApplication()
	}
	if app := e.ApplicationByUUID(id); app != nil {
		return app, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("tracegraph: reconnect: %w", err)
	}
	return e.newApplication(id, e.logDir)
}

func (e *Engine) newApplication(u, logDir string) (*Application, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.byUUID[u]; ok {
		return nil, fmt.Errorf("tracegraph: application %s already exists", u)
	}

	var log *eventlog.Writer
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("tracegraph: create log dir: %w", err)
		}
		w, err := eventlog.Create(filepath.Join(logDir, eventlog.FileName()))
		if err != nil {
			return nil, fmt.Errorf("tracegraph: %w", err)
		}
		log = w
	}

	id := e.ids.Next(idgen.Applications)
	app, err := newApplication(id, u, e.logger.With("app", id), e.batchSize, e.clock, log)
	if err != nil {
		if log != nil {
			log.Close()
		}
		return nil, err
	}
	e.apps[id] = app
	e.byUUID[u] = app
	e.logger.Info("application created", "app", id, "uuid", u)
	return app, nil
}

// LoadLog replays the event log at path into a new Application. A log that
// fails to load (missing header, version mismatch, corrupt line) leaves no
// Application behind. Protocol errors are reported through the stats.
func (e *Engine) LoadLog(path string) (*Application, eventlog.Stats, error) {
	app, err := e.newApplication(uuid.NewString(), "")
	if err != nil {
		return nil, eventlog.Stats{}, err
	}
	stats, err := eventlog.ReplayFile(path, app.AddData)
	if err != nil {
		e.remove(app)
		return nil, stats, fmt.Errorf("tracegraph: load %s: %w", path, err)
	}
	if len(stats.Errors) > 0 {
		e.logger.Warn("log loaded with protocol errors", "path", path, "rejected", stats.Rejected)
	}
	return app, stats, nil
}

func (e *Engine) remove(app *Application) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.apps, app.id)
	delete(e.byUUID, app.uuid)
}

// Application returns the Application with the given id, or nil.
func (e *Engine) Application(id ID) *Application {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.apps[id]
}

// ApplicationByUUID returns the Application registered under u, or nil.
func (e *Engine) ApplicationByUUID(u string) *Application {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byUUID[u]
}

// Applications returns all applications ordered by id.
func (e *Engine) Applications() []*Application {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Application, 0, len(e.apps))
	for _, app := range e.apps {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Close flushes and closes every Application.
func (e *Engine) Close() error {
	var errs []error
	for _, app := range e.Applications() {
		if err := app.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close application %d: %w", app.id, err))
		}
	}
	return errors.Join(errs...)
}
