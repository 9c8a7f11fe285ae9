// Package script runs Risor scripts against one application's data. Scripts
// read contexts and traces through host functions and may be used as ad-hoc
// queries or as key functions of custom indexes.
package script

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/tracegraph"
)

// Runtime evaluates Risor scripts with the query host functions bound to
// one QueryBuilder. Callers hold whatever lock protects the QueryBuilder
// for the duration of a call.
type Runtime struct {
	q          *tracegraph.QueryBuilder
	logger     *slog.Logger
	scriptsDir string
	fsys       fs.FS
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithFS loads scripts and resolves imports from fsys instead of disk.
func WithFS(fsys fs.FS) Option {
	return func(r *Runtime) { r.fsys = fsys }
}

// WithScriptsDir sets the directory relative script paths and imports are
// resolved against.
func WithScriptsDir(dir string) Option {
	return func(r *Runtime) { r.scriptsDir = dir }
}

// WithLogger sets the logger behind the log global.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// New creates a Runtime over q.
func New(q *tracegraph.QueryBuilder, opts ...Option) *Runtime {
	r := &Runtime{
		q:      q,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and evaluates a script file.
func (r *Runtime) RunScript(ctx context.Context, path string, extra map[string]any) (any, error) {
	src, err := r.LoadScript(path)
	if err != nil {
		return nil, err
	}
	return r.eval(ctx, src, path, extra)
}

// Eval evaluates source and returns the value of its last expression as a
// Go value.
func (r *Runtime) Eval(ctx context.Context, source string, extra map[string]any) (any, error) {
	return r.eval(ctx, source, "<inline>", extra)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extra map[string]any) (any, error) {
	globals := r.buildGlobals(extra)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", label, err)
	}
	if result == nil {
		return nil, nil
	}
	return result.Interface(), nil
}

func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: names,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: names,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a script from the configured FS, or from disk relative
// to the scripts directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("script: load %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	full := path
	if !filepath.IsAbs(path) && r.scriptsDir != "" {
		full = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("script: load %s: %w", full, err)
	}
	return string(data), nil
}

func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"log": mustProxy(&logObject{logger: r.logger}),
	}
	if r.q != nil {
		globals["context"] = makeContextFn(r.q)
		globals["trace"] = makeTraceFn(r.q)
		globals["value_of"] = makeValueOfFn(r.q)
		globals["traces_of_context"] = makeTracesOfContextFn(r.q)
		globals["traces_of_run"] = makeTracesOfRunFn(r.q)
		globals["children_of"] = makeChildrenOfFn(r.q)
		globals["root_of"] = makeRootOfFn(r.q)
		globals["roots"] = makeRootsFn(r.q)
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("script: proxy error: %v", err))
	}
	return p
}

// logObject provides log.info/warn/error to scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg, "source", "script") }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg, "source", "script") }
func (l *logObject) Error(msg string) { l.logger.Error(msg, "source", "script") }
