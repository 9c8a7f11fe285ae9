package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite export of one application's registry. The registry
// stays the source of truth; a Store is written once per export and read
// by external tools.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
-- Static tables

CREATE TABLE IF NOT EXISTS static_programs (
  id              INTEGER PRIMARY KEY,
  file_path       TEXT NOT NULL,
  application_id  INTEGER
);

CREATE TABLE IF NOT EXISTS static_contexts (
  id              INTEGER PRIMARY KEY,
  program_id      INTEGER NOT NULL REFERENCES static_programs(id),
  parent_id       INTEGER,
  kind            TEXT NOT NULL,
  is_interruptable BOOLEAN DEFAULT FALSE,
  display_name    TEXT,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS static_traces (
  id                INTEGER PRIMARY KEY,
  static_context_id INTEGER NOT NULL REFERENCES static_contexts(id),
  kind              TEXT NOT NULL,
  display_name      TEXT,
  start_line        INTEGER,
  start_col         INTEGER,
  end_line          INTEGER,
  end_col           INTEGER
);

-- Dynamic tables

CREATE TABLE IF NOT EXISTS execution_contexts (
  id                 INTEGER PRIMARY KEY,
  kind               TEXT NOT NULL,
  static_context_id  INTEGER,
  parent_context_id  INTEGER,
  scheduler_trace_id INTEGER,
  stack_depth        INTEGER NOT NULL,
  run_id             INTEGER NOT NULL,
  created_at         INTEGER NOT NULL,
  popped_at          INTEGER
);

CREATE TABLE IF NOT EXISTS traces (
  id              INTEGER PRIMARY KEY,
  context_id      INTEGER NOT NULL REFERENCES execution_contexts(id),
  static_trace_id INTEGER,
  kind            TEXT,
  value_json      TEXT,
  value_id        INTEGER,
  run_id          INTEGER NOT NULL,
  created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trace_values (
  id              INTEGER PRIMARY KEY,
  trace_id        INTEGER,
  value_json      TEXT
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_static_contexts_program ON static_contexts(program_id);
CREATE INDEX IF NOT EXISTS idx_static_traces_context ON static_traces(static_context_id);
CREATE INDEX IF NOT EXISTS idx_contexts_parent ON execution_contexts(parent_context_id);
CREATE INDEX IF NOT EXISTS idx_contexts_run ON execution_contexts(run_id);
CREATE INDEX IF NOT EXISTS idx_traces_context ON traces(context_id);
CREATE INDEX IF NOT EXISTS idx_traces_static ON traces(static_trace_id);
CREATE INDEX IF NOT EXISTS idx_traces_run ON traces(run_id);
`

// tableFor maps a collection to its table. ContextPops has no table of
// its own; pops update execution_contexts.
var tableFor = map[CollectionName]string{
	StaticProgramContexts: "static_programs",
	StaticContexts:        "static_contexts",
	StaticTraces:          "static_traces",
	ExecutionContexts:     "execution_contexts",
	Traces:                "traces",
	Values:                "trace_values",
}

// Count returns the number of exported rows for a collection.
func (s *Store) Count(name CollectionName) (int, error) {
	table, ok := tableFor[name]
	if !ok {
		return 0, fmt.Errorf("count: %w: %q", ErrUnknownCollection, name)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// ContextByID reads back one exported execution context. Returns nil, nil
// when the id is not present.
func (s *Store) ContextByID(id ID) (*ExecutionContext, error) {
	rowID, err := toRowID(id)
	if err != nil {
		return nil, err
	}
	var (
		c                                      ExecutionContext
		kind                                   string
		staticID, parentID, schedulerID, runID int64
		poppedAt                               sql.NullInt64
	)
	err = s.db.QueryRow(
		`SELECT kind, static_context_id, parent_context_id, scheduler_trace_id,
		        stack_depth, run_id, created_at, popped_at
		 FROM execution_contexts WHERE id = ?`, rowID,
	).Scan(&kind, &staticID, &parentID, &schedulerID, &c.StackDepth, &runID, &c.CreatedAt, &poppedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("context by id: %w", err)
	}
	if c.ContextKind, err = ParseContextKind(kind); err != nil {
		return nil, fmt.Errorf("context by id: %w", err)
	}
	c.ContextID = id
	c.StaticContextID = ID(staticID)
	c.ParentContextID = ID(parentID)
	c.SchedulerTraceID = ID(schedulerID)
	c.RunID = ID(runID)
	c.PoppedAt = poppedAt.Int64
	return &c, nil
}

// TraceIDsByContext returns the exported trace ids of a context in id order.
func (s *Store) TraceIDsByContext(contextID ID) ([]ID, error) {
	rowID, err := toRowID(contextID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query("SELECT id FROM traces WHERE context_id = ? ORDER BY id", rowID)
	if err != nil {
		return nil, fmt.Errorf("trace ids by context: %w", err)
	}
	defer rows.Close()

	var ids []ID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("trace ids by context: scan: %w", err)
		}
		ids = append(ids, ID(id))
	}
	return ids, rows.Err()
}
