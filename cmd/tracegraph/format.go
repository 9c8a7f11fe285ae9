package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var heading = color.New(color.Bold)

// formatContextsText formats CLIContext results as aligned columns.
func formatContextsText(w io.Writer, contexts []CLIContext) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME\tPARENT\tRUN\tDEPTH\tPOPPED")
	for _, c := range contexts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%t\n",
			c.ID, c.Kind, c.Name, optionalID(c.ParentID), c.RunID, c.Depth, c.Popped)
	}
	tw.Flush()
}

// formatTracesText formats CLITrace results as aligned columns.
func formatTracesText(w io.Writer, traces []CLITrace) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTEXT\tKIND\tNAME\tLINE\tVALUE")
	for _, t := range traces {
		value := ""
		if t.HasValue {
			value = formatValue(t.Value)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\n",
			t.ID, t.ContextID, t.Kind, t.Name, t.Line, value)
	}
	tw.Flush()
}

// formatTraceGroupsText prints each group under a heading.
func formatTraceGroupsText(w io.Writer, groups []CLITraceGroup) {
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		heading.Fprintf(w, "Group %s (%d traces)\n", optionalID(g.Key), len(g.Traces))
		formatTracesText(w, g.Traces)
	}
}

// formatKindGroupsText prints traces grouped by kind, then static trace.
func formatKindGroupsText(w io.Writer, groups []CLIKindGroup) {
	for i, kg := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		heading.Fprintln(w, kg.Kind)
		for _, g := range kg.Groups {
			fmt.Fprintf(w, "  #%d %s: %d traces\n", g.StaticTraceID, g.Name, len(g.Traces))
		}
	}
}

// formatSummaryText formats CLILoadSummary as readable text.
func formatSummaryText(w io.Writer, s CLILoadSummary) {
	heading.Fprintln(w, s.Source)
	if s.Output != "" {
		fmt.Fprintf(w, "Output:   %s\n", s.Output)
	}
	if s.Lines > 0 {
		fmt.Fprintf(w, "Lines:    %d (%d batches)\n", s.Lines, s.Batches)
	}
	if s.Events > 0 {
		fmt.Fprintf(w, "Events:   %d\n", s.Events)
	}
	fmt.Fprintf(w, "Programs: %d\n", s.Programs)
	fmt.Fprintf(w, "Contexts: %d (%d roots, %d runs)\n", s.Contexts, s.Roots, s.Runs)
	fmt.Fprintf(w, "Traces:   %d (%d values)\n", s.Traces, s.Values)
	fmt.Fprintf(w, "Rejected: %d\n", s.Rejected)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// formatProgramsText prints the static contexts and traces of each program.
func formatProgramsText(w io.Writer, programs []CLIProgram) {
	for i, p := range programs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		heading.Fprintln(w, p.File)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tKIND\tNAME\tPARENT\tLINE")
		for _, sc := range p.StaticContexts {
			kind := sc.Kind
			if sc.Interruptable {
				kind += "*"
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%d\n", sc.ID, kind, sc.Name, optionalID(sc.ParentID), sc.Line)
		}
		tw.Flush()
		if len(p.StaticTraces) == 0 {
			continue
		}
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  TRACE\tCONTEXT\tKIND\tNAME\tLINE")
		for _, st := range p.StaticTraces {
			fmt.Fprintf(tw, "  %d\t%d\t%s\t%s\t%d\n", st.ID, st.StaticContextID, st.Kind, st.Name, st.Line)
		}
		tw.Flush()
	}
}

// formatStackText prints the current stack and the waiting stacks.
func formatStackText(w io.Writer, s CLIStack) {
	fmt.Fprintf(w, "Current: %s\n", joinIDs(s.Current))
	keys := make([]uint64, 0, len(s.Waiting))
	for k := range s.Waiting {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		fmt.Fprintf(w, "Waiting at %d: %s\n", k, joinIDs(s.Waiting[k]))
	}
}

func joinIDs(ids []uint64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, " ")
}

func optionalID(id uint64) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprint(id)
}

// formatValue renders a captured value compactly.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type. It writes to stdout.
func outputResultText(result CLIResult) error {
	w := stdout

	switch v := result.Results.(type) {
	case []CLIContext:
		formatContextsText(w, v)
	case CLIContext:
		formatContextsText(w, []CLIContext{v})
	case []CLITrace:
		formatTracesText(w, v)
	case CLITrace:
		formatTracesText(w, []CLITrace{v})
	case []CLITraceGroup:
		formatTraceGroupsText(w, v)
	case []CLIKindGroup:
		formatKindGroupsText(w, v)
	case CLILoadSummary:
		formatSummaryText(w, v)
	case []CLIProgram:
		formatProgramsText(w, v)
	case CLIStack:
		formatStackText(w, v)
	case nil:
		// No output for nil results (e.g. unknown id).
	default:
		// values and eval results
		fmt.Fprintln(w, formatValue(v))
	}

	// Pagination footer.
	if result.TotalCount != nil {
		count := *result.TotalCount
		shown := resultLen(result.Results)
		if shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}

	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLIContext:
		return len(r)
	case []CLITrace:
		return len(r)
	case []CLITraceGroup:
		return len(r)
	case []CLIKindGroup:
		return len(r)
	case []CLIProgram:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
