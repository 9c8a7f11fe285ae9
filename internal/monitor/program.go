package monitor

import (
	"fmt"

	"github.com/jward/tracegraph/internal/idgen"
	"github.com/jward/tracegraph/internal/store"
)

// ProgramData describes one instrumented file. Static context and static
// trace ids are local to the program (1..n); ParentID and StaticContextID
// refer to those local ids. ProgramID fields are ignored.
type ProgramData struct {
	FilePath       string               `json:"filePath"`
	StaticContexts []store.StaticContext `json:"staticContexts"`
	StaticTraces   []store.StaticTrace   `json:"staticTraces"`
}

// Program maps the local static ids of a registered program to global ids.
type Program struct {
	ID             store.ID
	FilePath       string
	staticContexts map[store.ID]store.ID
	staticTraces   map[store.ID]store.ID
}

// StaticContextID translates a program-local static context id.
func (p *Program) StaticContextID(local store.ID) (store.ID, bool) {
	id, ok := p.staticContexts[local]
	return id, ok
}

// StaticTraceID translates a program-local static trace id.
func (p *Program) StaticTraceID(local store.ID) (store.ID, bool) {
	id, ok := p.staticTraces[local]
	return id, ok
}

// Program returns a registered program, or nil.
func (m *Monitor) Program(id store.ID) *Program {
	return m.programs[id]
}

// AddProgram registers the static metadata of one file and emits it as
// static records. Registering the same file path twice returns the program
// registered first.
func (m *Monitor) AddProgram(data ProgramData) (*Program, error) {
	if p, ok := m.programsByPath[data.FilePath]; ok {
		return p, nil
	}
	if err := validateProgram(data); err != nil {
		return nil, m.protocolError("addProgram", err, "filePath", data.FilePath)
	}

	p := &Program{
		ID:             m.ids.Next(idgen.Programs),
		FilePath:       data.FilePath,
		staticContexts: make(map[store.ID]store.ID, len(data.StaticContexts)),
		staticTraces:   make(map[store.ID]store.ID, len(data.StaticTraces)),
	}
	for _, sc := range data.StaticContexts {
		p.staticContexts[sc.StaticContextID] = m.ids.Next(idgen.StaticContexts)
	}
	for _, st := range data.StaticTraces {
		p.staticTraces[st.StaticTraceID] = m.ids.Next(idgen.StaticTraces)
	}

	m.pending.StaticProgramContexts = append(m.pending.StaticProgramContexts,
		store.StaticProgramContext{ProgramID: p.ID, FilePath: p.FilePath})
	for _, sc := range data.StaticContexts {
		global := sc
		global.StaticContextID = p.staticContexts[sc.StaticContextID]
		global.ProgramID = p.ID
		if sc.ParentID != 0 {
			global.ParentID = p.staticContexts[sc.ParentID]
		}
		m.staticContexts[global.StaticContextID] = global
		m.pending.StaticContexts = append(m.pending.StaticContexts, global)
	}
	for _, st := range data.StaticTraces {
		global := st
		global.StaticTraceID = p.staticTraces[st.StaticTraceID]
		global.StaticContextID = p.staticContexts[st.StaticContextID]
		m.staticTraces[global.StaticTraceID] = global
		m.pending.StaticTraces = append(m.pending.StaticTraces, global)
	}

	m.programs[p.ID] = p
	m.programsByPath[p.FilePath] = p
	return p, m.Flush()
}

// validateProgram checks local ids before any global id is allocated, so a
// rejected program leaves no gaps behind.
func validateProgram(data ProgramData) error {
	if data.FilePath == "" {
		return fmt.Errorf("%w: missing file path", ErrInvalidProgram)
	}
	parents := make(map[store.ID]store.ID, len(data.StaticContexts))
	for _, sc := range data.StaticContexts {
		if sc.StaticContextID == 0 {
			return fmt.Errorf("%w: static context with id 0", ErrInvalidProgram)
		}
		if _, err := sc.Kind.MarshalText(); err != nil {
			return fmt.Errorf("%w: static context %d: %w", ErrInvalidProgram, sc.StaticContextID, err)
		}
		if _, dup := parents[sc.StaticContextID]; dup {
			return fmt.Errorf("%w: duplicate static context %d", ErrInvalidProgram, sc.StaticContextID)
		}
		parents[sc.StaticContextID] = sc.ParentID
	}
	for id, parent := range parents {
		seen := map[store.ID]bool{id: true}
		for parent != 0 {
			next, ok := parents[parent]
			if !ok {
				return fmt.Errorf("%w: static context %d has unknown parent %d", ErrInvalidProgram, id, parent)
			}
			if seen[parent] {
				return fmt.Errorf("%w: static context %d is part of a parent cycle", ErrInvalidProgram, id)
			}
			seen[parent] = true
			parent = next
		}
	}
	traces := make(map[store.ID]bool, len(data.StaticTraces))
	for _, st := range data.StaticTraces {
		if st.StaticTraceID == 0 || traces[st.StaticTraceID] {
			return fmt.Errorf("%w: bad static trace id %d", ErrInvalidProgram, st.StaticTraceID)
		}
		if !st.Kind.Valid() {
			return fmt.Errorf("%w: static trace %d has kind %s", ErrInvalidProgram, st.StaticTraceID, st.Kind)
		}
		if _, ok := parents[st.StaticContextID]; !ok {
			return fmt.Errorf("%w: static trace %d has unknown static context %d", ErrInvalidProgram, st.StaticTraceID, st.StaticContextID)
		}
		traces[st.StaticTraceID] = true
	}
	return nil
}

func (m *Monitor) resolveStaticContext(op string, programID, local store.ID) (store.StaticContext, error) {
	p, ok := m.programs[programID]
	if !ok {
		return store.StaticContext{}, m.protocolError(op, fmt.Errorf("%s: %w: %d", op, ErrUnknownProgram, programID), "programId", programID)
	}
	global, ok := p.StaticContextID(local)
	if !ok {
		return store.StaticContext{}, m.protocolError(op,
			fmt.Errorf("%s: %w: static context %d in program %d", op, ErrUnknownStatic, local, programID),
			"programId", programID, "staticContextId", local)
	}
	return m.staticContexts[global], nil
}

func (m *Monitor) resolveStaticTrace(op string, programID, local store.ID) (store.StaticTrace, error) {
	p, ok := m.programs[programID]
	if !ok {
		return store.StaticTrace{}, m.protocolError(op, fmt.Errorf("%s: %w: %d", op, ErrUnknownProgram, programID), "programId", programID)
	}
	global, ok := p.StaticTraceID(local)
	if !ok {
		return store.StaticTrace{}, m.protocolError(op,
			fmt.Errorf("%s: %w: static trace %d in program %d", op, ErrUnknownStatic, local, programID),
			"programId", programID, "staticTraceId", local)
	}
	return m.staticTraces[global], nil
}
