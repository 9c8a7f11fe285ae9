package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jward/tracegraph"
	"github.com/jward/tracegraph/internal/monitor"
)

var (
	flagLog    string
	flagLimit  int
	flagOffset int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a recorded application",
	Long:  "Run queries against an event log. Unknown ids produce empty results rather than errors.",
}

func init() {
	queryCmd.PersistentFlags().StringVar(&flagLog, "log", "", "event log to query (required)")
	queryCmd.PersistentFlags().IntVar(&flagLimit, "limit", 50, "pagination limit (max 500)")
	queryCmd.PersistentFlags().IntVar(&flagOffset, "offset", 0, "pagination offset")
	_ = queryCmd.MarkPersistentFlagRequired("log")

	queryCmd.AddCommand(rootsCmd)
	queryCmd.AddCommand(runsCmd)
	queryCmd.AddCommand(contextCmd)
	queryCmd.AddCommand(ancestorsCmd)
	queryCmd.AddCommand(childrenCmd)
	queryCmd.AddCommand(tracesCmd)
	queryCmd.AddCommand(traceCmd)
	queryCmd.AddCommand(valueCmd)
	queryCmd.AddCommand(nextCmd)
	queryCmd.AddCommand(prevCmd)
	queryCmd.AddCommand(groupsCmd)
	queryCmd.AddCommand(kindsCmd)
	queryCmd.AddCommand(stackCmd)
}

// --- Helpers ---

// parseIDArg parses a positional argument as an id with a clear error.
func parseIDArg(value, name string) (tracegraph.ID, error) {
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	return tracegraph.ID(n), nil
}

// withQuery loads --log and runs fn with a QueryBuilder over it. fn
// returns the CLIResult to print.
func withQuery(command string, fn func(app *tracegraph.Application, q *tracegraph.QueryBuilder) (CLIResult, error)) error {
	engine, app, _, err := loadLog(flagLog)
	if err != nil {
		return outputError(command, err)
	}
	defer engine.Close()

	var result CLIResult
	err = app.View(func(q *tracegraph.QueryBuilder) error {
		var err error
		result, err = fn(app, q)
		return err
	})
	if err != nil {
		return outputError(command, err)
	}
	result.Command = command
	return outputResult(result)
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// paginate applies --limit and --offset and returns the page and the
// total count.
func paginate[T any](items []T) ([]T, *int) {
	total := len(items)
	limit := flagLimit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	start := min(max(flagOffset, 0), total)
	end := min(start+limit, total)
	return items[start:end], &total
}

func contextsResult(q *tracegraph.QueryBuilder, contexts []*tracegraph.ExecutionContext) CLIResult {
	out := make([]CLIContext, 0, len(contexts))
	for _, c := range contexts {
		out = append(out, contextToCLI(q, c))
	}
	page, total := paginate(out)
	return CLIResult{Results: page, TotalCount: total}
}

func tracesResult(q *tracegraph.QueryBuilder, traces []*tracegraph.Trace) CLIResult {
	page, total := paginate(tracesToCLI(q, traces))
	return CLIResult{Results: page, TotalCount: total}
}

func singleTrace(q *tracegraph.QueryBuilder, t *tracegraph.Trace) CLIResult {
	if t == nil {
		return CLIResult{}
	}
	one := 1
	return CLIResult{Results: traceToCLI(q, t), TotalCount: &one}
}

func idCommand(use, short string, run func(q *tracegraph.QueryBuilder, id tracegraph.ID) (CLIResult, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
	}
	name := cmd.Name()
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0], "id")
		if err != nil {
			return outputError(name, err)
		}
		return withQuery(name, func(_ *tracegraph.Application, q *tracegraph.QueryBuilder) (CLIResult, error) {
			return run(q, id)
		})
	}
	return cmd
}

// --- Context tree ---

var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "List root contexts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQuery("roots", func(_ *tracegraph.Application, q *tracegraph.QueryBuilder) (CLIResult, error) {
			return contextsResult(q, q.AllRootContexts()), nil
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the first context of every run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQuery("runs", func(_ *tracegraph.Application, q *tracegraph.QueryBuilder) (CLIResult, error) {
			return contextsResult(q, q.FirstContextsInRuns()), nil
		})
	},
}

var contextCmd = idCommand("context <id>", "Show one context",
	func(q *tracegraph.QueryBuilder, id tracegraph.ID) (CLIResult, error) {
		c := q.Context(id)
		if c == nil {
			return CLIResult{}, nil
		}
		one := 1
		return CLIResult{Results: contextToCLI(q, c), TotalCount: &one}, nil
	})

var ancestorsCmd = idCommand("ancestors <id>", "List a context and its ancestors up to the root",
	func(q *tracegraph.QueryBuilder, id tracegraph.ID) (CLIResult, error) {
		chain, err := q.AncestorChain(id)
		if err != nil {
			return CLIResult{}, err
		}
		return contextsResult(q, chain), nil
	})

var childrenCmd = idCommand("children <id>", "List the child contexts of a context",
	func(q *tracegraph.QueryBuilder, id tracegraph.ID) (CLIResult, error) {
		return contextsResult(q, q.ChildContexts(id)), nil
	})

var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "Show the stack left open at the end of the log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, app, _, err := loadLog(flagLog)
		if err != nil {
			return outputError("stack", err)
		}
		defer engine.Close()

		current, waiting := app.Stack()
		out := CLIStack{Current: make([]uint64, 0, len(current)), Waiting: make(map[uint64][]uint64, len(waiting))}
		for _, id := range current {
			out.Current = append(out.Current, uint64(id))
		}
		for key, stack := range waiting {
			ids := make([]uint64, 0, len(stack))
			for _, id := range stack {
				ids = append(ids, uint64(id))
			}
			out.Waiting[uint64(key)] = ids
		}
		return outputResult(CLIResult{Command: "stack", Results: out})
	},
}

// --- Traces ---

var (
	flagContext     uint64
	flagRun         uint64
	flagStaticTrace uint64
	flagInContext   bool
	flagMode        string
)

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "List traces of a context, run or static trace",
	Args:  cobra.NoArgs,
	RunE:  runTraces,
}

func init() {
	tracesCmd.Flags().Uint64Var(&flagContext, "context", 0, "traces recorded in this context")
	tracesCmd.Flags().Uint64Var(&flagRun, "run", 0, "traces recorded in this run")
	tracesCmd.Flags().Uint64Var(&flagStaticTrace, "static-trace", 0, "traces of this static trace")
	tracesCmd.MarkFlagsOneRequired("context", "run", "static-trace")
	tracesCmd.MarkFlagsMutuallyExclusive("context", "run", "static-trace")
}

func runTraces(cmd *cobra.Command, args []string) error {
	return withQuery("traces", func(_ *tracegraph.Application, q *tracegraph.QueryBuilder) (CLIResult, error) {
		var traces []*tracegraph.Trace
		switch {
		case flagContext != 0:
			traces = q.TracesOfContext(tracegraph.ID(flagContext))
		case flagRun != 0:
			traces = q.TracesOfRun(tracegraph.ID(flagRun))
		default:
			traces = q.TracesOfStaticTrace(tracegraph.ID(flagStaticTrace))
		}
		return tracesResult(q, traces), nil
	})
}

var traceCmd = idCommand("trace <id>", "Show one trace",
	func(q *tracegraph.QueryBuilder, id tracegraph.ID) (CLIResult, error) {
		return singleTrace(q, q.Trace(id)), nil
	})

var valueCmd = idCommand("value <trace-id>", "Show the value a trace captured",
	func(q *tracegraph.QueryBuilder, id tracegraph.ID) (CLIResult, error) {
		v, ok := q.TraceValue(id)
		if !ok {
			return CLIResult{}, nil
		}
		one := 1
		return CLIResult{Results: v, TotalCount: &one}, nil
	})

var nextCmd = idCommand("next <trace-id>", "Show the trace recorded after a trace",
	func(q *tracegraph.QueryBuilder, id tracegraph.ID) (CLIResult, error) {
		if flagInContext {
			return singleTrace(q, q.NextTraceInContext(id)), nil
		}
		return singleTrace(q, q.NextTrace(id)), nil
	})

var prevCmd = idCommand("prev <trace-id>", "Show the trace recorded before a trace",
	func(q *tracegraph.QueryBuilder, id tracegraph.ID) (CLIResult, error) {
		if flagInContext {
			return singleTrace(q, q.PreviousTraceInContext(id)), nil
		}
		return singleTrace(q, q.PreviousTrace(id)), nil
	})

func init() {
	for _, cmd := range []*cobra.Command{nextCmd, prevCmd} {
		cmd.Flags().BoolVar(&flagInContext, "in-context", false, "stay within the trace's context")
	}
}

// --- Grouping ---

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Group the traces of a context or run",
	Long:  "Groups traces by run, context, parentContext or callback (the scheduling trace of the callback context).",
	Args:  cobra.NoArgs,
	RunE:  runGroups,
}

func init() {
	groupsCmd.Flags().StringVar(&flagMode, "mode", "context", "group mode: ungrouped|run|context|parentContext|callback")
	groupsCmd.Flags().Uint64Var(&flagContext, "context", 0, "group the traces of this context and its children")
	groupsCmd.Flags().Uint64Var(&flagRun, "run", 0, "group the traces of this run")
	groupsCmd.MarkFlagsOneRequired("context", "run")
	groupsCmd.MarkFlagsMutuallyExclusive("context", "run")
}

func runGroups(cmd *cobra.Command, args []string) error {
	mode, err := tracegraph.ParseGroupMode(flagMode)
	if err != nil {
		return outputError("groups", err)
	}
	return withQuery("groups", func(_ *tracegraph.Application, q *tracegraph.QueryBuilder) (CLIResult, error) {
		var traces []*tracegraph.Trace
		if flagContext != 0 {
			id := tracegraph.ID(flagContext)
			traces = append(q.TracesOfContext(id), q.TracesOfChildContexts(id)...)
		} else {
			traces = q.TracesOfRun(tracegraph.ID(flagRun))
		}
		groups, err := q.GroupTraces(traces, mode)
		if err != nil {
			return CLIResult{}, err
		}
		out := make([]CLITraceGroup, 0, len(groups))
		for _, g := range groups {
			out = append(out, CLITraceGroup{Key: uint64(g.Key), Traces: tracesToCLI(q, g.Traces)})
		}
		total := len(out)
		return CLIResult{Results: out, TotalCount: &total}, nil
	})
}

var kindsCmd = idCommand("kinds <static-context-id>", "Group the traces of a static context by kind",
	func(q *tracegraph.QueryBuilder, id tracegraph.ID) (CLIResult, error) {
		if q.StaticContext(id) == nil {
			return CLIResult{}, nil
		}
		groups, err := q.GroupTracesByKind(q.StaticTracesOfStaticContext(id))
		if err != nil {
			return CLIResult{}, err
		}
		out := make([]CLIKindGroup, 0, len(groups))
		for _, kg := range groups {
			cg := CLIKindGroup{Kind: kg.Kind.String()}
			for _, g := range kg.Groups {
				cg.Groups = append(cg.Groups, CLIStaticGroup{
					StaticTraceID: uint64(g.StaticTrace.StaticTraceID),
					Name:          g.StaticTrace.DisplayName,
					Traces:        tracesToCLI(q, g.Traces),
				})
			}
			out = append(out, cg)
		}
		total := len(out)
		return CLIResult{Results: out, TotalCount: &total}, nil
	})

// --- Conversion ---

func contextToCLI(q *tracegraph.QueryBuilder, c *tracegraph.ExecutionContext) CLIContext {
	out := CLIContext{
		ID:               uint64(c.ContextID),
		Kind:             c.ContextKind.String(),
		StaticContextID:  uint64(c.StaticContextID),
		ParentID:         uint64(c.ParentContextID),
		SchedulerTraceID: uint64(c.SchedulerTraceID),
		RunID:            uint64(c.RunID),
		Depth:            c.StackDepth,
		Popped:           c.Popped(),
	}
	if sc := q.StaticContext(c.StaticContextID); sc != nil {
		out.Name = sc.DisplayName
	}
	return out
}

func traceToCLI(q *tracegraph.QueryBuilder, t *tracegraph.Trace) CLITrace {
	out := CLITrace{
		ID:            uint64(t.TraceID),
		ContextID:     uint64(t.ContextID),
		StaticTraceID: uint64(t.StaticTraceID),
		Kind:          q.TraceKind(t.TraceID).String(),
		RunID:         uint64(t.RunID),
		File:          q.TraceFilePath(t.TraceID),
		HasValue:      q.DoesTraceHaveValue(t.TraceID),
	}
	if st := q.StaticTrace(t.StaticTraceID); st != nil {
		out.Name = st.DisplayName
		out.Line = st.Loc.StartLine
	}
	if v, ok := q.TraceValue(t.TraceID); ok {
		out.Value = v
	}
	return out
}

func tracesToCLI(q *tracegraph.QueryBuilder, traces []*tracegraph.Trace) []CLITrace {
	out := make([]CLITrace, 0, len(traces))
	for _, t := range traces {
		out = append(out, traceToCLI(q, t))
	}
	return out
}

func programToCLI(p monitor.ProgramData) CLIProgram {
	out := CLIProgram{
		File:           p.FilePath,
		StaticContexts: make([]CLIStaticContext, 0, len(p.StaticContexts)),
		StaticTraces:   make([]CLIStaticTrace, 0, len(p.StaticTraces)),
	}
	for _, sc := range p.StaticContexts {
		out.StaticContexts = append(out.StaticContexts, CLIStaticContext{
			ID:            uint64(sc.StaticContextID),
			ParentID:      uint64(sc.ParentID),
			Kind:          sc.Kind.String(),
			Name:          sc.DisplayName,
			Interruptable: sc.IsInterruptable,
			Line:          sc.Loc.StartLine,
		})
	}
	for _, st := range p.StaticTraces {
		out.StaticTraces = append(out.StaticTraces, CLIStaticTrace{
			ID:              uint64(st.StaticTraceID),
			StaticContextID: uint64(st.StaticContextID),
			Kind:            st.Kind.String(),
			Name:            st.DisplayName,
			Line:            st.Loc.StartLine,
		})
	}
	return out
}
