package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jward/tracegraph"
)

type applicationView struct {
	ID        tracegraph.ID `json:"id"`
	UUID      string        `json:"uuid"`
	CreatedAt time.Time     `json:"createdAt"`
}

// traceView is a trace with its effective kind and resolved value.
type traceView struct {
	*tracegraph.Trace
	Kind     string `json:"kind"`
	Value    any    `json:"value,omitempty"`
	HasValue bool   `json:"hasValue"`
	FilePath string `json:"filePath,omitempty"`
}

type stackView struct {
	Current []tracegraph.ID                   `json:"current"`
	Waiting map[tracegraph.ID][]tracegraph.ID `json:"waiting"`
}

type errorView struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorView{Error: msg})
}

func idVar(r *http.Request, name string) (tracegraph.ID, bool) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, false
	}
	return tracegraph.ID(v), true
}

type appHandler func(w http.ResponseWriter, r *http.Request, app *tracegraph.Application)

func (s *Server) withApp(h appHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idVar(r, "app")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid application id")
			return
		}
		app := s.engine.Application(id)
		if app == nil {
			writeError(w, http.StatusNotFound, "unknown application")
			return
		}
		h(w, r, app)
	}
}

// withID resolves the {id} path variable and runs fn under a read lock.
// fn returns nil when the record does not exist.
func withID(w http.ResponseWriter, r *http.Request, app *tracegraph.Application, fn func(q *tracegraph.QueryBuilder, id tracegraph.ID) any) {
	id, ok := idVar(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var result any
	_ = app.View(func(q *tracegraph.QueryBuilder) error {
		result = fn(q, id)
		return nil
	})
	if result == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listApplications(w http.ResponseWriter, _ *http.Request) {
	apps := s.engine.Applications()
	views := make([]applicationView, 0, len(apps))
	for _, a := range apps {
		views = append(views, applicationView{ID: a.ID(), UUID: a.UUID(), CreatedAt: a.CreatedAt()})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) roots(w http.ResponseWriter, _ *http.Request, app *tracegraph.Application) {
	var roots []*tracegraph.ExecutionContext
	_ = app.View(func(q *tracegraph.QueryBuilder) error {
		roots = q.AllRootContexts()
		return nil
	})
	writeJSON(w, http.StatusOK, nonNil(roots))
}

func (s *Server) waiting(w http.ResponseWriter, _ *http.Request, app *tracegraph.Application) {
	current, waiting := app.Stack()
	writeJSON(w, http.StatusOK, stackView{Current: nonNil(current), Waiting: waiting})
}

func (s *Server) context(w http.ResponseWriter, r *http.Request, app *tracegraph.Application) {
	withID(w, r, app, func(q *tracegraph.QueryBuilder, id tracegraph.ID) any {
		if c := q.Context(id); c != nil {
			return c
		}
		return nil
	})
}

func (s *Server) ancestors(w http.ResponseWriter, r *http.Request, app *tracegraph.Application) {
	id, ok := idVar(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var (
		chain []*tracegraph.ExecutionContext
		err   error
	)
	_ = app.View(func(q *tracegraph.QueryBuilder) error {
		chain, err = q.AncestorChain(id)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if len(chain) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) children(w http.ResponseWriter, r *http.Request, app *tracegraph.Application) {
	withID(w, r, app, func(q *tracegraph.QueryBuilder, id tracegraph.ID) any {
		if q.Context(id) == nil {
			return nil
		}
		return nonNil(q.ChildContexts(id))
	})
}

func (s *Server) contextTraces(w http.ResponseWriter, r *http.Request, app *tracegraph.Application) {
	withID(w, r, app, func(q *tracegraph.QueryBuilder, id tracegraph.ID) any {
		if q.Context(id) == nil {
			return nil
		}
		return traceViews(q, q.TracesOfContext(id))
	})
}

func (s *Server) runTraces(w http.ResponseWriter, r *http.Request, app *tracegraph.Application) {
	withID(w, r, app, func(q *tracegraph.QueryBuilder, id tracegraph.ID) any {
		traces := q.TracesOfRun(id)
		if len(traces) == 0 {
			return nil
		}
		return traceViews(q, traces)
	})
}

func (s *Server) trace(w http.ResponseWriter, r *http.Request, app *tracegraph.Application) {
	withID(w, r, app, func(q *tracegraph.QueryBuilder, id tracegraph.ID) any {
		t := q.Trace(id)
		if t == nil {
			return nil
		}
		return newTraceView(q, t)
	})
}

func newTraceView(q *tracegraph.QueryBuilder, t *tracegraph.Trace) traceView {
	value, _ := q.TraceValue(t.TraceID)
	return traceView{
		Trace:    t,
		Kind:     q.TraceKind(t.TraceID).String(),
		Value:    value,
		HasValue: q.DoesTraceHaveValue(t.TraceID),
		FilePath: q.TraceFilePath(t.TraceID),
	}
}

func traceViews(q *tracegraph.QueryBuilder, traces []*tracegraph.Trace) []traceView {
	views := make([]traceView, 0, len(traces))
	for _, t := range traces {
		views = append(views, newTraceView(q, t))
	}
	return views
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
