// Package staticscan derives the static program description of a
// JavaScript file from its syntax tree: the function nesting as static
// contexts and the await, call, return and throw sites as static traces.
package staticscan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/jward/tracegraph/internal/monitor"
	"github.com/jward/tracegraph/internal/store"
)

// ErrSyntax reports a file tree-sitter could not parse cleanly.
var ErrSyntax = errors.New("staticscan: syntax error")

// maxDisplayName bounds display names taken from source text.
const maxDisplayName = 60

var extensions = map[string]bool{".js": true, ".mjs": true, ".cjs": true, ".jsx": true}

// Supported reports whether path has a JavaScript extension.
func Supported(path string) bool {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// ScanFile reads and scans one file.
func ScanFile(ctx context.Context, path string) (monitor.ProgramData, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return monitor.ProgramData{}, fmt.Errorf("staticscan: read %s: %w", path, err)
	}
	return Scan(ctx, path, src)
}

// Scan parses src and returns its program description. Local ids start at
// 1; static context 1 is the program itself.
func Scan(ctx context.Context, path string, src []byte) (monitor.ProgramData, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return monitor.ProgramData{}, fmt.Errorf("staticscan: parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return monitor.ProgramData{}, fmt.Errorf("%w in %s", ErrSyntax, path)
	}

	s := &scanner{src: src, data: monitor.ProgramData{FilePath: path}}
	program := s.addContext(store.StaticContext{
		Kind:        store.StaticProgram,
		DisplayName: filepath.Base(path),
		Loc:         locOf(root),
	})
	s.walk(root, program)
	return s.data, nil
}

type scanner struct {
	src  []byte
	data monitor.ProgramData
}

func (s *scanner) addContext(sc store.StaticContext) store.ID {
	sc.StaticContextID = store.ID(len(s.data.StaticContexts) + 1)
	s.data.StaticContexts = append(s.data.StaticContexts, sc)
	return sc.StaticContextID
}

func (s *scanner) addTrace(st store.StaticTrace) {
	st.StaticTraceID = store.ID(len(s.data.StaticTraces) + 1)
	s.data.StaticTraces = append(s.data.StaticTraces, st)
}

// walk visits n in source order; parent is the innermost enclosing
// function or program context.
func (s *scanner) walk(n *sitter.Node, parent store.ID) {
	switch n.Type() {
	case "function_declaration", "function", "function_expression",
		"generator_function_declaration", "generator_function",
		"arrow_function", "method_definition":
		parent = s.addContext(store.StaticContext{
			ParentID:        parent,
			Kind:            store.StaticFunction,
			IsInterruptable: isAsync(n) || isGenerator(n),
			DisplayName:     s.functionName(n),
			Loc:             locOf(n),
		})
	case "await_expression":
		s.addContext(store.StaticContext{
			ParentID:    parent,
			Kind:        store.StaticAwait,
			DisplayName: s.text(n),
			Loc:         locOf(n),
		})
		s.addTrace(store.StaticTrace{
			StaticContextID: parent,
			Kind:            store.TraceAwait,
			DisplayName:     s.text(n),
			Loc:             locOf(n),
		})
	case "call_expression", "new_expression":
		s.addTrace(store.StaticTrace{
			StaticContextID: parent,
			Kind:            store.TraceBeforeCallExpression,
			DisplayName:     s.text(n),
			Loc:             locOf(n),
		})
	case "return_statement":
		if n.NamedChildCount() > 0 {
			s.addTrace(store.StaticTrace{
				StaticContextID: parent,
				Kind:            store.TraceReturnArgument,
				DisplayName:     s.text(n),
				Loc:             locOf(n),
			})
		}
	case "throw_statement":
		s.addTrace(store.StaticTrace{
			StaticContextID: parent,
			Kind:            store.TraceThrowArgument,
			DisplayName:     s.text(n),
			Loc:             locOf(n),
		})
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		s.walk(n.NamedChild(i), parent)
	}
}

func (s *scanner) functionName(n *sitter.Node) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(s.src)
	}
	p := n.Parent()
	if p == nil {
		return "(anonymous)"
	}
	var field string
	switch p.Type() {
	case "variable_declarator":
		field = "name"
	case "pair":
		field = "key"
	case "assignment_expression":
		field = "left"
	}
	if field != "" {
		if name := p.ChildByFieldName(field); name != nil {
			return name.Content(s.src)
		}
	}
	return "(anonymous)"
}

// text returns the first line of n's source, shortened to maxDisplayName.
func (s *scanner) text(n *sitter.Node) string {
	t := n.Content(s.src)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[:i] + "…"
	}
	if r := []rune(t); len(r) > maxDisplayName {
		t = string(r[:maxDisplayName]) + "…"
	}
	return t
}

func isAsync(n *sitter.Node) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "async" {
			return true
		}
	}
	return false
}

func isGenerator(n *sitter.Node) bool {
	switch n.Type() {
	case "generator_function_declaration", "generator_function":
		return true
	case "method_definition":
		for i := 0; i < int(n.ChildCount()); i++ {
			if n.Child(i).Type() == "*" {
				return true
			}
		}
	}
	return false
}

func locOf(n *sitter.Node) store.Loc {
	start, end := n.StartPoint(), n.EndPoint()
	return store.Loc{
		StartLine: int(start.Row) + 1,
		StartCol:  int(start.Column),
		EndLine:   int(end.Row) + 1,
		EndCol:    int(end.Column),
	}
}

// ScanFiles scans paths with a worker pool, one parser per worker.
// Results keep the order of paths; files that fail are left out and
// reported in the returned error.
func ScanFiles(ctx context.Context, paths []string) ([]monitor.ProgramData, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	type job struct {
		idx  int
		path string
	}
	type result struct {
		idx  int
		data monitor.ProgramData
		err  error
	}

	workCh := make(chan job, len(paths))
	for i, p := range paths {
		workCh <- job{idx: i, path: p}
	}
	close(workCh)

	resultCh := make(chan result, len(paths))
	numWorkers := max(min(runtime.NumCPU(), len(paths)), 1)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range workCh {
				if err := ctx.Err(); err != nil {
					resultCh <- result{idx: j.idx, err: err}
					continue
				}
				data, err := ScanFile(ctx, j.path)
				resultCh <- result{idx: j.idx, data: data, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	ordered := make([]*monitor.ProgramData, len(paths))
	var errs []error
	for res := range resultCh {
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		ordered[res.idx] = &res.data
	}

	programs := make([]monitor.ProgramData, 0, len(paths))
	for _, p := range ordered {
		if p != nil {
			programs = append(programs, *p)
		}
	}
	if len(errs) > 0 {
		return programs, fmt.Errorf("staticscan: %d of %d file(s) failed: %w", len(errs), len(paths), errors.Join(errs...))
	}
	return programs, nil
}
