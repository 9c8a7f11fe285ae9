package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/jward/tracegraph"
	"github.com/jward/tracegraph/internal/monitor"
	"github.com/jward/tracegraph/internal/script"
	"github.com/jward/tracegraph/internal/server"
	"github.com/jward/tracegraph/internal/staticscan"
	"github.com/jward/tracegraph/internal/store"
)

// --- serve ---

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept runtime connections and serve the query API",
	Long:  "Starts the runtime websocket endpoint (/ws/runtime), the JSON query API (/api) and Prometheus metrics (/metrics). Each application gets its own event log when the event log is enabled.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := []tracegraph.Option{
		tracegraph.WithLogger(logger),
		tracegraph.WithBatchSize(cfg.Monitor.BatchSize),
	}
	if cfg.EventLog.Enabled {
		opts = append(opts, tracegraph.WithLogDir(cfg.EventLog.Dir))
	}
	engine := tracegraph.New(opts...)
	// logs are flushed even when the process exits through atexit.Exit
	atexit.Register(func() { engine.Close() })

	addr := cfg.Server.Addr
	if flagAddr != "" {
		addr = flagAddr
	}
	srv := server.New(engine,
		server.WithAddr(addr),
		server.WithLogger(logger),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(ctx); err != nil {
		return outputError("serve", err)
	}
	return nil
}

// --- replay ---

var replayCmd = &cobra.Command{
	Use:   "replay <log>",
	Short: "Load an event log and summarize it",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	engine, app, stats, err := loadLog(args[0])
	if err != nil {
		return outputError("replay", err)
	}
	defer engine.Close()

	summary := summarize(args[0], app)
	summary.Lines = stats.Lines
	summary.Batches = stats.Batches
	summary.Rejected = stats.Rejected
	summary.Errors = errorStrings(stats.Errors)
	return outputResult(CLIResult{Command: "replay", Results: summary})
}

// --- ingest-events ---

var flagOut string

var ingestCmd = &cobra.Command{
	Use:   "ingest-events <events.jsonl>",
	Short: "Run recorded instrumentation events through the stack machine",
	Long:  "Reads one JSON event per line (addProgram, pushImmediate, trace, ...), applies them in order and optionally writes the resulting application as an event log.",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&flagOut, "out", "o", "", "write the resulting event log to this path")
}

func runIngest(cmd *cobra.Command, args []string) error {
	events, err := readEvents(args[0])
	if err != nil {
		return outputError("ingest-events", err)
	}

	engine := newEngine()
	defer engine.Close()
	app, err := engine.NewApplication()
	if err != nil {
		return outputError("ingest-events", err)
	}

	// protocol errors are reported, not fatal
	var errs []string
	for i, ev := range events {
		if _, err := app.ApplyEvents([]monitor.Event{ev}); err != nil {
			errs = append(errs, fmt.Sprintf("event %d: %v", i+1, err))
		}
	}

	summary := summarize(args[0], app)
	summary.Events = len(events)
	summary.Rejected = len(errs)
	summary.Errors = errs

	if flagOut != "" {
		if err := writeLog(flagOut, app); err != nil {
			return outputError("ingest-events", err)
		}
		summary.Output = flagOut
	}
	return outputResult(CLIResult{Command: "ingest-events", Results: summary})
}

func readEvents(path string) ([]monitor.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening events: %w", err)
	}
	defer f.Close()

	var events []monitor.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev monitor.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	return events, nil
}

func writeLog(path string, app *tracegraph.Application) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating log: %w", err)
	}
	if err := app.Dump(f); err != nil {
		f.Close()
		return fmt.Errorf("writing log: %w", err)
	}
	return f.Close()
}

// --- export ---

var flagSQLite string

var exportCmd = &cobra.Command{
	Use:   "export <log>",
	Short: "Export an event log to a SQLite database",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&flagSQLite, "sqlite", "", "SQLite database to create (required)")
	_ = exportCmd.MarkFlagRequired("sqlite")
}

func runExport(cmd *cobra.Command, args []string) error {
	engine, app, stats, err := loadLog(args[0])
	if err != nil {
		return outputError("export", err)
	}
	defer engine.Close()

	if err := os.Remove(flagSQLite); err != nil && !os.IsNotExist(err) {
		return outputError("export", fmt.Errorf("removing old database: %w", err))
	}
	s, err := store.NewStore(flagSQLite)
	if err != nil {
		return outputError("export", err)
	}
	defer s.Close()
	if err := s.Migrate(); err != nil {
		return outputError("export", err)
	}
	if err := s.CommitBatch(app.Snapshot()); err != nil {
		return outputError("export", err)
	}

	summary := summarize(args[0], app)
	summary.Output = flagSQLite
	summary.Lines = stats.Lines
	summary.Rejected = stats.Rejected
	return outputResult(CLIResult{Command: "export", Results: summary})
}

// --- scan ---

var scanCmd = &cobra.Command{
	Use:   "scan <file.js>...",
	Short: "Derive static contexts and traces from JavaScript files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	for _, p := range args {
		if !staticscan.Supported(p) {
			return outputError("scan", fmt.Errorf("not a JavaScript file: %s", p))
		}
	}
	programs, err := staticscan.ScanFiles(cmd.Context(), args)
	if err != nil {
		return outputError("scan", err)
	}
	results := make([]CLIProgram, 0, len(programs))
	for _, p := range programs {
		results = append(results, programToCLI(p))
	}
	total := len(results)
	return outputResult(CLIResult{Command: "scan", Results: results, TotalCount: &total})
}

// --- eval ---

var flagExpr string

var evalCmd = &cobra.Command{
	Use:   "eval <log> [script.risor]",
	Short: "Evaluate a Risor script against an event log",
	Long:  "Loads the log and evaluates a Risor script (or --expr) with the query host functions context, trace, value_of, traces_of_context, traces_of_run, children_of, root_of and roots.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&flagExpr, "expr", "e", "", "inline Risor source instead of a script file")
}

func runEval(cmd *cobra.Command, args []string) error {
	if (len(args) == 2) == (flagExpr != "") {
		return outputError("eval", fmt.Errorf("requires exactly one of a script file or --expr"))
	}
	engine, app, _, err := loadLog(args[0])
	if err != nil {
		return outputError("eval", err)
	}
	defer engine.Close()

	ctx := cmd.Context()
	var result any
	err = app.View(func(q *tracegraph.QueryBuilder) error {
		rt := script.New(q, script.WithLogger(logger))
		var err error
		if flagExpr != "" {
			result, err = rt.Eval(ctx, flagExpr, nil)
		} else {
			result, err = rt.RunScript(ctx, args[1], nil)
		}
		return err
	})
	if err != nil {
		return outputError("eval", err)
	}
	return outputResult(CLIResult{Command: "eval", Results: result})
}

// --- helpers ---

func summarize(source string, app *tracegraph.Application) CLILoadSummary {
	snap := app.Snapshot()
	summary := CLILoadSummary{
		Source:   source,
		Programs: snap.Count(store.StaticProgramContexts),
		Contexts: snap.Count(store.ExecutionContexts),
		Traces:   snap.Count(store.Traces),
		Values:   snap.Count(store.Values),
	}
	_ = app.View(func(q *tracegraph.QueryBuilder) error {
		summary.Runs = len(q.Runs())
		summary.Roots = len(q.AllRootContexts())
		return nil
	})
	return summary
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}
