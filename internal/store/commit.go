package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"fortio.org/safecast"
)

// CommitBatch writes all records of b within a single transaction.
//
// Insert order follows CollectionNames so foreign keys always point at
// rows written earlier:
//  1. Static programs, static contexts, static traces
//  2. Execution contexts
//  3. Traces, then values
//  4. Context pops, applied as updates of execution_contexts
func (s *Store) CommitBatch(b *Batch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	for _, p := range b.StaticProgramContexts {
		if err := insertRow(tx,
			`INSERT INTO static_programs (id, file_path, application_id) VALUES (?, ?, ?)`,
			p.ProgramID, p.FilePath, p.ApplicationID); err != nil {
			return fmt.Errorf("commit batch: program %q: %w", p.FilePath, err)
		}
	}
	for _, sc := range b.StaticContexts {
		if err := insertRow(tx,
			`INSERT INTO static_contexts (id, program_id, parent_id, kind, is_interruptable, display_name,
			   start_line, start_col, end_line, end_col)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.StaticContextID, sc.ProgramID, sc.ParentID, sc.Kind.String(), sc.IsInterruptable, sc.DisplayName,
			sc.Loc.StartLine, sc.Loc.StartCol, sc.Loc.EndLine, sc.Loc.EndCol); err != nil {
			return fmt.Errorf("commit batch: static context %d: %w", sc.StaticContextID, err)
		}
	}
	for _, st := range b.StaticTraces {
		if err := insertRow(tx,
			`INSERT INTO static_traces (id, static_context_id, kind, display_name, start_line, start_col, end_line, end_col)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			st.StaticTraceID, st.StaticContextID, st.Kind.String(), st.DisplayName,
			st.Loc.StartLine, st.Loc.StartCol, st.Loc.EndLine, st.Loc.EndCol); err != nil {
			return fmt.Errorf("commit batch: static trace %d: %w", st.StaticTraceID, err)
		}
	}
	for _, c := range b.ExecutionContexts {
		var poppedAt sql.NullInt64
		if c.Popped() {
			poppedAt = sql.NullInt64{Int64: c.PoppedAt, Valid: true}
		}
		if err := insertRow(tx,
			`INSERT INTO execution_contexts (id, kind, static_context_id, parent_context_id, scheduler_trace_id,
			   stack_depth, run_id, created_at, popped_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ContextID, c.ContextKind.String(), c.StaticContextID, c.ParentContextID, c.SchedulerTraceID,
			c.StackDepth, c.RunID, c.CreatedAt, poppedAt); err != nil {
			return fmt.Errorf("commit batch: context %d: %w", c.ContextID, err)
		}
	}
	for _, t := range b.Traces {
		valueJSON, err := valueColumn(t.Value)
		if err != nil {
			return fmt.Errorf("commit batch: trace %d: %w", t.TraceID, err)
		}
		var kind sql.NullString
		if t.Kind != TraceKindNone {
			kind = sql.NullString{String: t.Kind.String(), Valid: true}
		}
		if err := insertRow(tx,
			`INSERT INTO traces (id, context_id, static_trace_id, kind, value_json, value_id, run_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.TraceID, t.ContextID, t.StaticTraceID, kind, valueJSON, t.ValueID, t.RunID, t.CreatedAt); err != nil {
			return fmt.Errorf("commit batch: trace %d: %w", t.TraceID, err)
		}
	}
	for _, v := range b.Values {
		valueJSON, err := valueColumn(v.Value)
		if err != nil {
			return fmt.Errorf("commit batch: value %d: %w", v.ValueID, err)
		}
		if err := insertRow(tx,
			`INSERT INTO trace_values (id, trace_id, value_json) VALUES (?, ?, ?)`,
			v.ValueID, v.TraceID, valueJSON); err != nil {
			return fmt.Errorf("commit batch: value %d: %w", v.ValueID, err)
		}
	}
	for _, pop := range b.ContextPops {
		rowID, err := toRowID(pop.ContextID)
		if err != nil {
			return fmt.Errorf("commit batch: pop: %w", err)
		}
		if _, err := tx.Exec(`UPDATE execution_contexts SET popped_at = ? WHERE id = ?`, pop.PoppedAt, rowID); err != nil {
			return fmt.Errorf("commit batch: pop %d: %w", pop.ContextID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: commit: %w", err)
	}
	return nil
}

// insertRow converts every ID argument to a SQLite integer before executing.
func insertRow(tx *sql.Tx, query string, args ...any) error {
	for i, a := range args {
		id, ok := a.(ID)
		if !ok {
			continue
		}
		rowID, err := toRowID(id)
		if err != nil {
			return err
		}
		args[i] = rowID
	}
	_, err := tx.Exec(query, args...)
	return err
}

func toRowID(id ID) (int64, error) {
	rowID, err := safecast.Conv[int64](uint64(id))
	if err != nil {
		return 0, fmt.Errorf("id %d does not fit a sqlite integer: %w", id, err)
	}
	return rowID, nil
}

func valueColumn(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
