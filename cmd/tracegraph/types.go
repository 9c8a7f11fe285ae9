package main

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIContext is a JSON-friendly execution context.
type CLIContext struct {
	ID               uint64 `json:"id"`
	Kind             string `json:"kind"`
	StaticContextID  uint64 `json:"static_context_id"`
	Name             string `json:"name,omitempty"`
	ParentID         uint64 `json:"parent_id,omitempty"`
	SchedulerTraceID uint64 `json:"scheduler_trace_id,omitempty"`
	RunID            uint64 `json:"run_id"`
	Depth            int    `json:"depth"`
	Popped           bool   `json:"popped"`
}

// CLITrace is a JSON-friendly trace with its effective kind and value.
type CLITrace struct {
	ID            uint64 `json:"id"`
	ContextID     uint64 `json:"context_id"`
	StaticTraceID uint64 `json:"static_trace_id"`
	Kind          string `json:"kind"`
	Name          string `json:"name,omitempty"`
	RunID         uint64 `json:"run_id"`
	File          string `json:"file,omitempty"`
	Line          int    `json:"line,omitempty"`
	HasValue      bool   `json:"has_value"`
	Value         any    `json:"value,omitempty"`
}

// CLITraceGroup is one group of traces sharing a key.
type CLITraceGroup struct {
	Key    uint64     `json:"key"`
	Traces []CLITrace `json:"traces"`
}

// CLIKindGroup is the traces of one kind, grouped by static trace.
type CLIKindGroup struct {
	Kind   string           `json:"kind"`
	Groups []CLIStaticGroup `json:"groups"`
}

// CLIStaticGroup is the traces of one static trace.
type CLIStaticGroup struct {
	StaticTraceID uint64     `json:"static_trace_id"`
	Name          string     `json:"name,omitempty"`
	Traces        []CLITrace `json:"traces"`
}

// CLIStack is the current stack and the waiting stacks of an application.
type CLIStack struct {
	Current []uint64            `json:"current"`
	Waiting map[uint64][]uint64 `json:"waiting"`
}

// CLILoadSummary describes a loaded, ingested or exported application.
type CLILoadSummary struct {
	Source   string   `json:"source"`
	Output   string   `json:"output,omitempty"`
	Lines    int      `json:"lines,omitempty"`
	Events   int      `json:"events,omitempty"`
	Batches  int      `json:"batches,omitempty"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
	Programs int      `json:"programs"`
	Contexts int      `json:"contexts"`
	Traces   int      `json:"traces"`
	Values   int      `json:"values"`
	Runs     int      `json:"runs"`
	Roots    int      `json:"roots"`
}

// CLIProgram is a scanned program description.
type CLIProgram struct {
	File           string             `json:"file"`
	StaticContexts []CLIStaticContext `json:"static_contexts"`
	StaticTraces   []CLIStaticTrace   `json:"static_traces"`
}

// CLIStaticContext is a JSON-friendly static context.
type CLIStaticContext struct {
	ID            uint64 `json:"id"`
	ParentID      uint64 `json:"parent_id,omitempty"`
	Kind          string `json:"kind"`
	Name          string `json:"name"`
	Interruptable bool   `json:"interruptable,omitempty"`
	Line          int    `json:"line"`
}

// CLIStaticTrace is a JSON-friendly static trace.
type CLIStaticTrace struct {
	ID              uint64 `json:"id"`
	StaticContextID uint64 `json:"static_context_id"`
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	Line            int    `json:"line"`
}
