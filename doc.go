// Package tracegraph reconstructs the causal execution history of a traced
// program from a stream of instrumentation events and exposes it as a
// queryable graph of execution contexts and traced values.
//
// # Pipeline
//
// Events flow one way:
//
//  1. Monitor: the stack machine in internal/monitor turns push, pop,
//     schedule, callback and await events into execution contexts and
//     traces, tracking logical stacks across callbacks and awaits.
//
//  2. Registry: internal/store holds the static and dynamic collections.
//     Batches are its only input; records are never mutated, except for
//     the single pop of a context.
//
//  3. Indexes: internal/index keeps secondary lookups current as batches
//     arrive, and backfills indexes registered late.
//
//  4. Query: the [QueryBuilder] composes registry and indexes into
//     ancestor chains, trace navigation, value resolution and grouping.
//
// # Usage
//
// Create an Engine, open an Application and feed it events or batches:
//
//	e := tracegraph.New()
//	defer e.Close()
//
//	app, err := e.NewApplication()
//	if err != nil { ... }
//	_, err = app.ApplyEvents(events)
//
//	err = app.View(func(q *tracegraph.QueryBuilder) error {
//		roots := q.AllRootContexts()
//		...
//	})
//
// # Query API
//
// Every [QueryBuilder] lookup fails closed: an unknown id yields nil or an
// empty slice, never an error. Errors are reserved for malformed input such
// as an unknown grouping mode or a corrupt parent chain.
//
// # Applications
//
// Applications are isolated from each other. Each owns its registry, index
// engine, stack machine and, when [WithLogDir] is set, an append-only event
// log that [Engine.LoadLog] can replay later.
package tracegraph
